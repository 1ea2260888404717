// Package client provides the resilient GLPI request executor: session header
// injection, a fixed timeout, 401-triggered re-authentication and retry with
// exponential backoff on transport failures.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/retry"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for GLPI client operations.
var (
	glpiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_requests_total",
		Help: "Total GLPI requests by endpoint and status",
	}, []string{"endpoint", "status"})

	glpiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glpi_request_duration_seconds",
		Help:    "GLPI request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	glpiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_errors_total",
		Help: "Total GLPI errors by class",
	}, []string{"class"})

	glpiReauthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_reauth_total",
		Help: "Total re-authentications triggered by 401 responses by outcome",
	}, []string{"outcome"})
)

// DefaultTimeout is applied to every API call.
const DefaultTimeout = 30 * time.Second

// Config holds the executor configuration.
type Config struct {
	// Timeout bounds each HTTP round trip (default 30s).
	Timeout time.Duration

	// Retry is applied to transport failures.
	Retry retry.Policy
}

// DefaultConfig returns the 30s timeout and 3 attempts with base-2 backoff.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Retry:   retry.DefaultPolicy(),
	}
}

// Client is the single choke point for GLPI API calls.
type Client struct {
	session    *session.Manager
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a request executor on top of a session manager. A nil
// httpClient gets a fresh client; the configured timeout is applied when the
// given client has none.
func New(sess *session.Manager, httpClient *http.Client, cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		sleep := cfg.Retry.Sleep
		cfg.Retry = retry.DefaultPolicy()
		cfg.Retry.Sleep = sleep
	}

	hc := &http.Client{}
	if httpClient != nil {
		copied := *httpClient
		hc = &copied
	}
	if hc.Timeout == 0 {
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		session:    sess,
		httpClient: hc,
		config:     cfg,
		logger:     logger,
	}
}

// Session returns the underlying session manager.
func (c *Client) Session() *session.Manager {
	return c.session
}

// Do performs an authenticated call.
//
// Authentication failures are returned without a network call. A 401
// response drops the token, triggers exactly one re-authentication and, if
// that succeeds, one retried call; if re-authentication fails the original
// 401 response is returned as-is. Transport failures are retried per the
// retry policy and reported as glpi.ErrTransport once exhausted. Other
// status codes are returned to the caller unchanged.
//
// The caller must close the response body.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	endpoint := path
	startTime := time.Now()
	defer func() {
		glpiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var resp *http.Response
	err := retry.Do(ctx, c.config.Retry, "request", func(attempt int) error {
		headers, err := c.session.Headers(ctx)
		if err != nil {
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Cannot obtain session headers")
			return retry.Permanent(err)
		}

		r, err := c.send(ctx, method, path, params, headers)
		if err != nil {
			return err
		}

		if r.StatusCode == http.StatusUnauthorized {
			r, err = c.reauthenticate(ctx, method, path, params, headers, r)
			if err != nil {
				return err
			}
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	glpiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	if class := classifyStatus(resp.StatusCode); class != "" {
		glpiErrorsTotal.WithLabelValues(string(class)).Inc()
	}
	return resp, nil
}

// reauthenticate handles a 401: the stale token is dropped, a new session is
// created and the call is retried once. unauthorized is returned untouched
// when re-authentication fails.
func (c *Client) reauthenticate(ctx context.Context, method, path string, params url.Values, stale http.Header, unauthorized *http.Response) (*http.Response, error) {
	c.logger.Warn().Str("endpoint", path).Msg("Received 401, session may have expired; re-authenticating")
	c.session.InvalidateToken(stale.Get("Session-Token"))

	headers, err := c.session.Headers(ctx)
	if err != nil {
		glpiReauthTotal.WithLabelValues("failure").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("Re-authentication failed, returning 401 response")
		return unauthorized, nil
	}
	glpiReauthTotal.WithLabelValues("success").Inc()

	drain(unauthorized)
	return c.send(ctx, method, path, params, headers)
}

// send performs a single round trip. Transport failures are wrapped with
// glpi.ErrTransport.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, headers http.Header) (*http.Response, error) {
	target := c.session.BaseURL() + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: build request: %v", glpi.ErrConfiguration, err))
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	c.logger.Debug().
		Str("endpoint", path).
		Str("method", method).
		Msg("Executing GLPI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		glpiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		glpiRequestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		if ctx.Err() != nil {
			return nil, retry.Permanent(fmt.Errorf("%w: %s %s: %v", glpi.ErrTransport, method, path, err))
		}
		return nil, fmt.Errorf("%w: %s %s: %v", glpi.ErrTransport, method, path, err)
	}
	return resp, nil
}

// Get is a convenience wrapper around Do.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, params)
}

// Search runs a search over itemtype and resolves the total from the
// Content-Range header. Non-2xx responses become *glpi.APIError.
func (c *Client) Search(ctx context.Context, itemtype string, q glpi.Query) (*glpi.SearchResult, error) {
	path := "/search/" + itemtype
	body, header, err := c.fetch(ctx, path, q.Values())
	if err != nil {
		return nil, err
	}
	return glpi.DecodeSearchResult(body, header.Get("Content-Range"))
}

// ListSearchOptions returns the searchable fields of itemtype.
func (c *Client) ListSearchOptions(ctx context.Context, itemtype string) (glpi.SearchOptions, error) {
	body, _, err := c.fetch(ctx, "/listSearchOptions/"+itemtype, nil)
	if err != nil {
		return nil, err
	}
	return glpi.DecodeSearchOptions(body)
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, params)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s body: %v", glpi.ErrTransport, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(classifyStatus(resp.StatusCode))).
			Msg("GLPI request error")
		return nil, nil, &glpi.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return body, resp.Header, nil
}

// Close ends the GLPI session.
func (c *Client) Close(ctx context.Context) {
	c.session.Close(ctx)
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Compile-time check that Client satisfies glpi.API.
var _ glpi.API = (*Client)(nil)
