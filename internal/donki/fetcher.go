package donki

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
)

const defaultBaseURL = "https://api.nasa.gov/DONKI/CME"

// Fetcher retrieves the raw CME catalog from the DONKI API. Outbound calls
// are routed through a circuit breaker with bounded retries so a flapping
// upstream cannot pile up requests.
type Fetcher struct {
	baseURL    string
	apiKey     string
	window     time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	sleepFn    func(time.Duration) // injectable for tests
	nowFn      func() time.Time
}

const (
	fetchMaxRetries = 2
	fetchRetryWait  = 2 * time.Second
)

// NewFetcher creates a Fetcher for the given base URL and API key.
// window controls how far back the catalog request reaches.
func NewFetcher(baseURL, apiKey string, window time.Duration) *Fetcher {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if window <= 0 {
		window = 72 * time.Hour
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "donki",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Fetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		window:  window,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: cb,
		sleepFn: time.Sleep,
		nowFn:   time.Now,
	}
}

// SourceURL returns the request URL for the current time window, with the
// API key redacted from the query string.
func (f *Fetcher) SourceURL() string {
	u, _ := url.Parse(f.requestURL())
	q := u.Query()
	if q.Get("api_key") != "" {
		q.Set("api_key", "REDACTED")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) requestURL() string {
	now := f.nowFn().UTC()
	q := url.Values{}
	q.Set("startDate", now.Add(-f.window).Format("2006-01-02"))
	q.Set("endDate", now.Format("2006-01-02"))
	if f.apiKey != "" {
		q.Set("api_key", f.apiKey)
	}
	return f.baseURL + "?" + q.Encode()
}

// Fetch retrieves the raw catalog JSON, retrying on 429/5xx responses.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.breaker.Execute(func() ([]byte, error) {
		var lastErr error
		for attempt := 0; attempt <= fetchMaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}
				f.sleepFn(fetchRetryWait * time.Duration(attempt))
			}

			body, retryable, err := f.fetchOnce(ctx)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if !retryable {
				return nil, err
			}
		}
		return nil, fmt.Errorf("fetch retries exhausted: %w", lastErr)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetching CME catalog: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d from %s", resp.StatusCode, f.baseURL)
	default:
		return nil, false, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.baseURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response body: %w", err)
	}
	return data, false, nil
}
