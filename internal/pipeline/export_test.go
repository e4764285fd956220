package pipeline

import "context"

// Tick runs one scheduled iteration synchronously.
func (s *Scheduler) Tick(ctx context.Context) { s.tick(ctx) }
