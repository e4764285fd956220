package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/quake-data-etl/internal/adapter/http"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type triggerCall struct {
	target pipeline.Target
	window domain.Window
	policy pipeline.RetryPolicy
}

type mockTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

func (m *mockTrigger) Trigger(_ context.Context, target pipeline.Target, w domain.Window, p pipeline.RetryPolicy) (<-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, triggerCall{target, w, p})
	done := make(chan error, 1)
	done <- nil
	close(done)
	return done, nil
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(context.Background(), ":0", &mockReadiness{err: readyErr}, nil, pipeline.RetryPolicy{}, slog.Default())
}

func newRunServer(trigger *mockTrigger) *httpadapter.Server {
	policy := pipeline.RetryPolicy{Retries: 2, Delay: time.Second}
	return httpadapter.NewServer(context.Background(), ":0", &mockReadiness{}, trigger, policy, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("not ready yet"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunsStartsRequestedStage(t *testing.T) {
	trigger := &mockTrigger{}
	srv := newRunServer(trigger)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs?date=2024-01-01&stage=load", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, trigger.calls, 1)
	assert.Equal(t, pipeline.TargetLoad, trigger.calls[0].target)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), trigger.calls[0].window.Start)
	assert.Equal(t, 2, trigger.calls[0].policy.Retries)

	var body struct {
		Status string        `json:"status"`
		Stage  string        `json:"stage"`
		Window domain.Window `json:"window"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body.Status)
	assert.Equal(t, "load", body.Stage)
	assert.Equal(t, "2024-01-01", body.Window.Date())
}

func TestRunsDefaultsToPreviousDay(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })

	trigger := &mockTrigger{}
	srv := newRunServer(trigger)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, trigger.calls, 1)
	assert.Equal(t, pipeline.TargetAll, trigger.calls[0].target)
	assert.Equal(t, "2024-03-09", trigger.calls[0].window.Date())
}

func TestRunsRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown stage", "?stage=transform"},
		{"bad date", "?date=2024-13-01"},
		{"not a date", "?date=yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &mockTrigger{}
			srv := newRunServer(trigger)
			rec := httptest.NewRecorder()

			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, trigger.calls)
		})
	}
}

func TestRunsReturns409WhileBusy(t *testing.T) {
	srv := newRunServer(&mockTrigger{err: pipeline.ErrRunInProgress})
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs?date=2024-01-01", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "busy", body["status"])
}

func TestRunsNotServedWithoutTrigger(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
