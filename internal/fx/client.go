package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/recoup-labs/recovery-cli/internal/resilience"
)

// LiveClient fetches a spot rate from an external source. Implementations
// must respect context deadlines; the resolver caps every call at a
// seconds-scale timeout and falls through to the static tier on failure.
type LiveClient interface {
	Fetch(ctx context.Context, from, to string, day time.Time) (float64, error)
}

// HTTPClient queries a daily-rates JSON API (frankfurter-style:
// GET {base}/{date}?from=USD&to=EUR returning {"rates":{"EUR":0.92}}).
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewHTTPClient creates a live rate client. perSecond bounds the outbound
// request rate; non-positive values select 5 req/s.
func NewHTTPClient(baseURL string, timeout time.Duration, perSecond float64) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.MaxBackoff = 2 * time.Second
	retry.OnRetry = resilience.RetryLogger("fx", "fetch_rate")

	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// Fetch retrieves the rate for one currency pair and day.
func (c *HTTPClient) Fetch(ctx context.Context, from, to string, day time.Time) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "fx: rate limiter")
	}

	endpoint := fmt.Sprintf("%s/%s?from=%s&to=%s",
		c.baseURL,
		day.UTC().Format("2006-01-02"),
		url.QueryEscape(from),
		url.QueryEscape(to),
	)

	// The breaker sits outside the retry loop so a dead provider stops
	// costing a full retry cycle per valuation.
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (float64, error) {
		return c.fetchWithRetry(ctx, to, endpoint)
	})
}

func (c *HTTPClient) fetchWithRetry(ctx context.Context, to, endpoint string) (float64, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, eris.Wrap(err, "fx: build request")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return 0, resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := eris.Errorf("fx: provider returned %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return 0, resilience.NewTransientError(err, resp.StatusCode)
			}
			return 0, err
		}

		var parsed ratesResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return 0, eris.Wrap(err, "fx: decode response")
		}
		v, ok := parsed.Rates[to]
		if !ok || v <= 0 {
			return 0, eris.Errorf("fx: provider response missing rate for %s", to)
		}
		return v, nil
	})
}
