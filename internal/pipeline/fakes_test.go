package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// --- source ---

type fakeSource struct {
	mu      sync.Mutex
	bodies  [][]byte
	errs    []error // errs[i] is returned by the i-th Pages call, if set
	calls   int
	queries []domain.Query
	block   chan struct{} // when set, Pages waits for it to close
}

func (s *fakeSource) Pages(ctx context.Context, q domain.Query) iter.Seq2[domain.Page, error] {
	return func(yield func(domain.Page, error) bool) {
		s.mu.Lock()
		call := s.calls
		s.calls++
		s.queries = append(s.queries, q)
		bodies := s.bodies
		var err error
		if call < len(s.errs) {
			err = s.errs[call]
		}
		s.mu.Unlock()

		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
				yield(domain.Page{}, ctx.Err())
				return
			}
		}
		if err != nil {
			yield(domain.Page{}, err)
			return
		}
		for i, body := range bodies {
			n, cerr := domain.CountFeatures(body)
			if cerr != nil {
				n = 0
			}
			if !yield(domain.Page{Number: i + 1, Query: q, Body: body, Features: n}, nil) {
				return
			}
		}
	}
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- object store ---

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	pingErr error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorage, domain.ErrObjectNotFound, key)
	}
	return body, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) keys() []string {
	keys, _ := m.List(context.Background(), "")
	return keys
}

// --- staging and marts ---

// memWarehouse follows the staging rules of the Postgres adapter: an object
// with an already recorded checksum is skipped, otherwise only unseen ids are
// appended and events without id always are.
type memWarehouse struct {
	mu        sync.Mutex
	manifest  map[string]string
	rows      []domain.EventRecord
	pingErr   error
	loadErr   error
	countMart []domain.CountRow
	avgMart   []domain.AvgRow
	rebuilds  int
}

func newMemWarehouse() *memWarehouse {
	return &memWarehouse{manifest: map[string]string{}}
}

func (w *memWarehouse) LoadObject(_ context.Context, obj domain.StagedObject) (domain.ObjectLoad, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loadErr != nil {
		return domain.ObjectLoad{}, w.loadErr
	}
	out := domain.ObjectLoad{Key: obj.Key, Features: len(obj.Records)}
	if sum, ok := w.manifest[obj.Key]; ok && sum == obj.Checksum {
		out.Skipped = true
		return out, nil
	}
	seen := map[string]bool{}
	for _, r := range w.rows {
		if r.ID.Valid {
			seen[r.ID.String] = true
		}
	}
	for _, r := range obj.Records {
		if r.ID.Valid && seen[r.ID.String] {
			out.Duplicates++
			continue
		}
		if r.ID.Valid {
			seen[r.ID.String] = true
		}
		w.rows = append(w.rows, r)
		out.Inserted++
	}
	w.manifest[obj.Key] = obj.Checksum
	return out, nil
}

func (w *memWarehouse) Ping(context.Context) error { return w.pingErr }

func (w *memWarehouse) Rebuild(context.Context) (domain.MartResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rebuilds++
	counts, err := domain.CountByDay(w.rows)
	if err != nil {
		return domain.MartResult{}, err
	}
	avgs, err := domain.AverageMagnitudeByDay(w.rows)
	if err != nil {
		return domain.MartResult{}, err
	}
	w.countMart, w.avgMart = counts, avgs
	return domain.MartResult{CountRows: int64(len(counts)), AvgRows: int64(len(avgs))}, nil
}

func (w *memWarehouse) rowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// --- notifier and encoder ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.StageEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, e domain.StageEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) published() []domain.StageEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.StageEvent(nil), n.events...)
}

type jsonLinesEncoder struct{}

func (jsonLinesEncoder) Encode(records []domain.EventRecord) ([]byte, error) {
	var b strings.Builder
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func (jsonLinesEncoder) ContentType() string { return "application/x-ndjson" }

// --- payloads ---

type quake struct {
	id   string // empty means a null id
	mag  string // JSON literal, e.g. 4.5, null or "\"big\""
	time int64  // epoch milliseconds
}

func collection(t *testing.T, quakes ...quake) []byte {
	t.Helper()
	features := make([]string, len(quakes))
	for i, q := range quakes {
		id := "null"
		if q.id != "" {
			id = fmt.Sprintf("%q", q.id)
		}
		features[i] = fmt.Sprintf(
			`{"type":"Feature","id":%s,"properties":{"mag":%s,"time":%d,"type":"earthquake"},"geometry":{"type":"Point","coordinates":[121.5,23.8,10.0]}}`,
			id, q.mag, q.time)
	}
	body := fmt.Sprintf(`{"type":"FeatureCollection","metadata":{"count":%d},"features":[%s]}`,
		len(quakes), strings.Join(features, ","))
	require.True(t, json.Valid([]byte(body)))
	return []byte(body)
}

var errTransient = errors.New("connection reset by peer")

type permanentError struct{}

func (permanentError) Error() string   { return "usgs: status 400" }
func (permanentError) Retryable() bool { return false }
