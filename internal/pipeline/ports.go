package pipeline

import (
	"context"
	"iter"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Source yields the response pages for a query in order.
type Source interface {
	Pages(ctx context.Context, q domain.Query) iter.Seq2[domain.Page, error]
}

// ObjectStore holds the raw layer. Objects are overwritten by key and never
// deleted.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// Staging appends raw objects to the staging table.
type Staging interface {
	LoadObject(ctx context.Context, obj domain.StagedObject) (domain.ObjectLoad, error)
	Ping(ctx context.Context) error
}

// MartBuilder recomputes the daily marts from staging.
type MartBuilder interface {
	Rebuild(ctx context.Context) (domain.MartResult, error)
}

// ColumnarEncoder renders flattened records as a columnar file stored next
// to each raw page.
type ColumnarEncoder interface {
	Encode(records []domain.EventRecord) ([]byte, error)
	ContentType() string
}

// Notifier announces finished stages.
type Notifier interface {
	Publish(ctx context.Context, event domain.StageEvent) error
}

// NopNotifier discards stage events.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, domain.StageEvent) error { return nil }
