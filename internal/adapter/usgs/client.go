package usgs

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// FDSN times are interpreted as UTC when no offset is given.
const fdsnTimeLayout = "2006-01-02T15:04:05.000"

// FDSN endtime is inclusive; the last millisecond before the window end keeps
// an event at exactly midnight in one day only.
const endtimeResolution = time.Millisecond

// emptyCollection stands in for the body of a 204 No Content response.
var emptyCollection = []byte(`{"type":"FeatureCollection","features":[]}`)

// Client reads event pages from the USGS FDSN event web service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an FDSN event client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usgs api error: status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrUpstream }

// Retryable reports whether the status signals a transient condition.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Pages returns a lazy sequence of response pages for q, ordered by event time.
// The first page is always produced, even when the window holds no events.
// Paging stops after the first short page or the first error.
func (c *Client) Pages(ctx context.Context, q domain.Query) iter.Seq2[domain.Page, error] {
	return func(yield func(domain.Page, error) bool) {
		if err := q.Window.Validate(); err != nil {
			yield(domain.Page{}, err)
			return
		}

		limit := q.PageSize
		if limit <= 0 || limit > domain.MaxPageSize {
			limit = domain.MaxPageSize
		}

		for number, offset := 1, 1; ; number, offset = number+1, offset+limit {
			page, err := c.fetch(ctx, q, number, offset, limit)
			if err != nil {
				yield(domain.Page{}, err)
				return
			}
			if !yield(page, nil) || page.Features < limit {
				return
			}
		}
	}
}

func (c *Client) fetch(ctx context.Context, q domain.Query, number, offset, limit int) (domain.Page, error) {
	fullURL := c.baseURL + "?" + queryParams(q, offset, limit).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.APIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: page %d request: %w", domain.ErrUpstream, number, err)
	}
	defer resp.Body.Close()

	var body []byte
	switch resp.StatusCode {
	case http.StatusOK:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return domain.Page{}, fmt.Errorf("%w: page %d read body: %w", domain.ErrUpstream, number, err)
		}
	case http.StatusNoContent:
		body = emptyCollection
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Page{}, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	// A body that is not a FeatureCollection is an upstream fault, so it stays
	// retryable instead of carrying the permanent malformed-document error.
	n, err := domain.CountFeatures(body)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: page %d: %v", domain.ErrUpstream, number, err)
	}

	c.metrics.PagesFetched.Inc()
	c.metrics.EventsFetched.Add(float64(n))
	c.logger.Debug("usgs page fetched", "page", number, "offset", offset, "features", n)

	return domain.Page{
		Number:    number,
		Query:     q,
		FetchedAt: domain.Now(),
		Body:      body,
		Features:  n,
	}, nil
}

func queryParams(q domain.Query, offset, limit int) url.Values {
	params := url.Values{
		"format":    {"geojson"},
		"starttime": {q.Window.Start.UTC().Format(fdsnTimeLayout)},
		"endtime":   {q.Window.End.Add(-endtimeResolution).UTC().Format(fdsnTimeLayout)},
		"orderby":   {"time-asc"},
		"limit":     {strconv.Itoa(limit)},
		"offset":    {strconv.Itoa(offset)},
	}
	if q.MinMagnitude != nil {
		params.Set("minmagnitude", formatFloat(*q.MinMagnitude))
	}
	if r := q.Region; r != nil {
		params.Set("minlatitude", formatFloat(r.MinLatitude))
		params.Set("minlongitude", formatFloat(r.MinLongitude))
		params.Set("maxlatitude", formatFloat(r.MaxLatitude))
		params.Set("maxlongitude", formatFloat(r.MaxLongitude))
	}
	return params
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
