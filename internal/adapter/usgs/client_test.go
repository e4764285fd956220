package usgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testQuery(t *testing.T, pageSize int) domain.Query {
	t.Helper()
	w, err := domain.ParseDate("2024-01-01")
	require.NoError(t, err)
	return domain.Query{Window: w, PageSize: pageSize}
}

// collection renders a FeatureCollection with n features whose ids start at first.
func collection(first, n int) string {
	features := make([]string, n)
	for i := range features {
		features[i] = fmt.Sprintf(`{"type":"Feature","properties":{"mag":%d.5,"time":1704103200000},"geometry":{"type":"Point","coordinates":[1,2,3]},"id":"us%d"}`, i%7, first+i)
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

// pagedServer serves total features in pages honoring limit and 1-based offset.
func pagedServer(t *testing.T, total int, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		n := max(0, min(limit, total-(offset-1)))
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(collection(offset, n)))
	}))
}

func collect(t *testing.T, c *Client, q domain.Query) ([]domain.Page, error) {
	t.Helper()
	var pages []domain.Page
	for page, err := range c.Pages(context.Background(), q) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func TestClient_Pages_QueryParameters(t *testing.T) {
	minMag := 2.5
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query())
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(collection(1, 0)))
	}))
	defer srv.Close()

	q := testQuery(t, 100)
	q.MinMagnitude = &minMag
	q.Region = &domain.BoundingBox{MinLatitude: 30, MinLongitude: 120.5, MaxLatitude: 46, MaxLongitude: 146}

	_, err := collect(t, testClient(srv.URL), q)
	require.NoError(t, err)

	params := got.Load().(url.Values)
	assert.Equal(t, []string{"geojson"}, params["format"])
	assert.Equal(t, []string{"2024-01-01T00:00:00.000"}, params["starttime"])
	assert.Equal(t, []string{"2024-01-01T23:59:59.999"}, params["endtime"], "endtime is inclusive, so midnight belongs to the next day only")
	assert.Equal(t, []string{"time-asc"}, params["orderby"])
	assert.Equal(t, []string{"100"}, params["limit"])
	assert.Equal(t, []string{"1"}, params["offset"])
	assert.Equal(t, []string{"2.5"}, params["minmagnitude"])
	assert.Equal(t, []string{"30"}, params["minlatitude"])
	assert.Equal(t, []string{"120.5"}, params["minlongitude"])
	assert.Equal(t, []string{"46"}, params["maxlatitude"])
	assert.Equal(t, []string{"146"}, params["maxlongitude"])
}

func TestClient_Pages_Pagination(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	var requests atomic.Int32
	srv := pagedServer(t, 5, &requests)
	defer srv.Close()

	pages, err := collect(t, testClient(srv.URL), testQuery(t, 2))
	require.NoError(t, err)

	require.Len(t, pages, 3)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, []int{2, 2, 1}, []int{pages[0].Features, pages[1].Features, pages[2].Features})
	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, fakeClock.Now(), p.FetchedAt)
	}
	assert.Contains(t, string(pages[2].Body), `"id":"us5"`)
}

func TestClient_Pages_ExactMultipleFetchesTrailingEmptyPage(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 4, &requests)
	defer srv.Close()

	pages, err := collect(t, testClient(srv.URL), testQuery(t, 2))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 0, pages[2].Features)
}

func TestClient_Pages_EmptyWindowYieldsOnePage(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 0, &requests)
	defer srv.Close()

	pages, err := collect(t, testClient(srv.URL), testQuery(t, 100))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 0, pages[0].Features)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(pages[0].Body))
}

func TestClient_Pages_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pages, err := collect(t, testClient(srv.URL), testQuery(t, 100))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 0, pages[0].Features)
}

func TestClient_Pages_StopsWhenConsumerBreaks(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 10, &requests)
	defer srv.Close()

	for page, err := range testClient(srv.URL).Pages(context.Background(), testQuery(t, 2)) {
		require.NoError(t, err)
		assert.Equal(t, 1, page.Number)
		break
	}
	assert.Equal(t, int32(1), requests.Load())
}

func TestClient_Pages_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("Bad Request: endtime must be after starttime"))
			}))
			defer srv.Close()

			_, err := collect(t, testClient(srv.URL), testQuery(t, 100))
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.retryable, se.Retryable())
			assert.ErrorIs(t, err, domain.ErrUpstream)
			assert.Contains(t, err.Error(), strconv.Itoa(tt.status))
		})
	}
}

func TestClient_Pages_ErrorOnLaterPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "1" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(collection(1, 2)))
	}))
	defer srv.Close()

	pages, err := collect(t, testClient(srv.URL), testQuery(t, 2))
	require.Error(t, err)
	assert.Len(t, pages, 1)
}

func TestClient_Pages_MalformedBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := collect(t, testClient(srv.URL), testQuery(t, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.False(t, domain.IsPermanent(err))
}

func TestClient_Pages_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := collect(t, c, testQuery(t, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestClient_Pages_InvalidWindow(t *testing.T) {
	c := testClient("http://unused.invalid")
	_, err := collect(t, c, domain.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}
