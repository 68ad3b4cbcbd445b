// Package insights fetches ad-level daily insights from the Graph marketing
// API with pagination, retry and usage-based rate limiting.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/Sternrassler/ads-insights-cache/pkg/pagination"
	"github.com/Sternrassler/ads-insights-cache/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for insights requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcache_insights_requests_total",
		Help: "Total insights page requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adcache_insights_request_duration_seconds",
		Help:    "Insights page request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcache_insights_errors_total",
		Help: "Total insights errors by kind",
	}, []string{"kind"})

	truncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcache_insights_truncated_total",
		Help: "Total insights fetches that stopped at the page bound",
	})
)

const (
	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"

	// DefaultAPIVersion is the Graph API version used in request paths.
	DefaultAPIVersion = "v19.0"

	// DefaultRateLimitBackoff is suggested when a rate limit response carries no hint.
	DefaultRateLimitBackoff = 60 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Config holds the insights client configuration.
type Config struct {
	// BaseURL of the Graph API (default: DefaultBaseURL)
	BaseURL string

	// APIVersion path segment (default: DefaultAPIVersion)
	APIVersion string

	// Fields requested when a Request names none (default: DefaultFields)
	Fields []string

	// PageLimit is the page size requested from the API
	PageLimit int

	// MaxPages bounds pagination per fetch, first page included
	MaxPages int

	// RequestTimeout applies to each HTTP call
	RequestTimeout time.Duration

	// Retry overrides the per-kind retry configuration when set
	Retry *RetryConfig

	// UserAgent header sent with every request
	UserAgent string

	// Tracker gates requests on reported API usage (optional)
	Tracker *ratelimit.Tracker

	// HTTPClient replaces the default client (optional)
	HTTPClient *http.Client

	// Logger (default: global logger with component "insights-client")
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		APIVersion:     DefaultAPIVersion,
		Fields:         DefaultFields,
		PageLimit:      500,
		MaxPages:       pagination.DefaultConfig().MaxPages,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "ads-insights-cache/1.0",
	}
}

// Request names one insights query.
type Request struct {
	// AccountID is the ad account id without the "act_" prefix
	AccountID string
	Range     cache.DateRange
	// Fields overrides the configured field list
	Fields []string
}

// Validate checks the request before any network activity.
func (r Request) Validate() error {
	if r.AccountID == "" {
		return errors.New("account id is required")
	}
	if strings.HasPrefix(r.AccountID, "act_") {
		return fmt.Errorf("account id %q must not carry the act_ prefix", r.AccountID)
	}
	return r.Range.Validate()
}

// Result holds every record of a fetch.
type Result struct {
	Records []Record
	// Pages fetched, first page included
	Pages int
	// Truncated is true when MaxPages stopped pagination early
	Truncated bool
}

// Client fetches insights from the Graph API.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a new insights client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.APIVersion == "" {
		return nil, errors.New("api version is required")
	}
	if cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("page_limit must be > 0 (got %d)", cfg.PageLimit)
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("max_pages must be > 0 (got %d)", cfg.MaxPages)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request_timeout must be > 0 (got %v)", cfg.RequestTimeout)
	}
	if cfg.Retry != nil {
		if err := cfg.Retry.validate(); err != nil {
			return nil, err
		}
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}

	logger := log.With().Str("component", "insights-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		tracker:    cfg.Tracker,
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetAccessToken replaces the access token used for subsequent fetches.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// HasAccessToken reports whether a token is set.
func (c *Client) HasAccessToken() bool {
	return c.accessToken() != ""
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchInsights fetches every page of ad-level daily insights for req.
// A fetch cut short by MaxPages succeeds with Result.Truncated set; any
// page failure fails the whole fetch.
func (c *Client) FetchInsights(ctx context.Context, req Request) (*Result, error) {
	token := c.accessToken()
	if token == "" {
		errorsTotal.WithLabelValues(string(KindUnauthenticated)).Inc()
		return nil, ErrUnauthenticated
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid insights request: %w", err)
	}

	start := time.Now()
	logger := c.logger.With().
		Str("account_id", req.AccountID).
		Str("range", req.Range.Descriptor()).
		Logger()

	first, err := c.fetchPage(ctx, logger, c.buildURL(req, token))
	if err != nil {
		return nil, err
	}

	followed, err := pagination.Follow(ctx, first, func(ctx context.Context, next string) (pagination.Page[Record], error) {
		return c.fetchPage(ctx, logger, next)
	}, pagination.Config{MaxPages: c.config.MaxPages})
	if err != nil {
		logger.Warn().Err(err).Int("pages", followed.Pages).Msg("Insights pagination failed")
		return nil, err
	}

	if followed.Truncated {
		truncatedTotal.Inc()
	}

	logger.Debug().
		Int("records", len(followed.Items)).
		Int("pages", followed.Pages).
		Bool("truncated", followed.Truncated).
		Dur("duration", time.Since(start)).
		Msg("Insights fetched")

	return &Result{
		Records:   followed.Items,
		Pages:     followed.Pages,
		Truncated: followed.Truncated,
	}, nil
}

// buildURL returns the first page URL: {base}/{version}/act_{id}/insights?...
func (c *Client) buildURL(req Request, token string) string {
	fields := req.Fields
	if len(fields) == 0 {
		fields = c.config.Fields
	}

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("fields", strings.Join(fields, ","))
	q.Set("level", "ad")
	q.Set("time_increment", "1")
	q.Set("limit", strconv.Itoa(c.config.PageLimit))
	if req.Range.IsExplicit() {
		q.Set("time_range", req.Range.TimeRangeJSON())
	} else {
		q.Set("date_preset", req.Range.Preset)
	}

	return fmt.Sprintf("%s/%s/act_%s/insights?%s",
		strings.TrimRight(c.config.BaseURL, "/"), c.config.APIVersion, req.AccountID, q.Encode())
}

// pageResponse is the envelope of one insights page.
type pageResponse struct {
	Data   json.RawMessage `json:"data"`
	Paging *struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// fetchPage performs one page request with rate limit gating and retry.
func (c *Client) fetchPage(ctx context.Context, logger zerolog.Logger, pageURL string) (pagination.Page[Record], error) {
	var page pagination.Page[Record]

	if err := c.checkRateLimit(ctx, logger); err != nil {
		return page, err
	}

	err := retryWithBackoff(ctx, logger, c.config.Retry, func() error {
		var err error
		page, err = c.doPage(ctx, logger, pageURL)
		if err != nil {
			errorsTotal.WithLabelValues(string(KindOf(err))).Inc()
		}
		return err
	})
	return page, err
}

func (c *Client) checkRateLimit(ctx context.Context, logger zerolog.Logger) error {
	if c.tracker == nil {
		return nil
	}

	allowed, wait, err := c.tracker.ShouldAllowRequest(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Usage state unavailable: the API will still tell us if we overrun
		logger.Warn().Err(err).Msg("Rate limit check failed")
		return nil
	}
	if !allowed {
		requestsTotal.WithLabelValues("rate_limited").Inc()
		errorsTotal.WithLabelValues(string(KindRateLimited)).Inc()
		return &APIError{
			Kind:       KindRateLimited,
			Message:    "blocked by local usage tracker",
			RetryAfter: wait,
		}
	}
	return nil
}

func (c *Client) doPage(ctx context.Context, logger zerolog.Logger, pageURL string) (pagination.Page[Record], error) {
	var page pagination.Page[Record]

	callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page, &APIError{Kind: KindRequest, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return page, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := classifyResponse(resp.StatusCode, resp.Header, body)
		requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Int("code", apiErr.Code).
			Str("kind", string(apiErr.Kind)).
			Msg("Insights request error")
		return page, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page, c.transportError(ctx, err)
	}
	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	var envelope pageResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return page, &APIError{Kind: KindProtocol, StatusCode: resp.StatusCode, Message: "decode page", Err: err}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return page, &APIError{Kind: KindProtocol, StatusCode: resp.StatusCode, Message: "response has no data array"}
	}
	if err := json.Unmarshal(envelope.Data, &page.Items); err != nil {
		return page, &APIError{Kind: KindProtocol, StatusCode: resp.StatusCode, Message: "decode records", Err: err}
	}
	if envelope.Paging != nil && envelope.Paging.Next != "" {
		page.HasMore = true
		page.Next = envelope.Paging.Next
	}

	return page, nil
}

// transportError classifies a failed round trip. Cancellation of the caller's
// context is returned as is.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	requestsTotal.WithLabelValues("network_error").Inc()

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Kind: KindTimeout, Message: fmt.Sprintf("no response within %v", c.config.RequestTimeout), Err: err}
	}
	return &APIError{Kind: KindNetwork, Err: err}
}

// graphError is the API's error payload: {"error": {...}}.
type graphError struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// Error codes that signal throttling regardless of the HTTP status.
var rateLimitCodes = map[int]struct{}{
	4: {}, 17: {}, 32: {}, 613: {},
}

func isRateLimitCode(code int) bool {
	if _, ok := rateLimitCodes[code]; ok {
		return true
	}
	// Business use case limits
	return code >= 80000 && code <= 80014
}

// classifyResponse maps an error response to an APIError.
// Rate limit codes win over the status code since the API sends them as 400 or 403.
func classifyResponse(status int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}

	var payload graphError
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		apiErr.Code = payload.Error.Code
		if payload.Error.Message != "" {
			apiErr.Message = payload.Error.Message
		}
	}

	switch {
	case status == http.StatusTooManyRequests || isRateLimitCode(apiErr.Code):
		apiErr.Kind = KindRateLimited
		apiErr.RetryAfter = retryAfter(header)
	case status == http.StatusUnauthorized || status == http.StatusForbidden || apiErr.Code == 190:
		apiErr.Kind = KindAuth
	case status >= 500:
		apiErr.Kind = KindServer
	default:
		apiErr.Kind = KindRequest
	}
	return apiErr
}

// retryAfter reads the backoff hint from Retry-After or the usage headers.
func retryAfter(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	if usage, ok, err := ratelimit.ParseUsageHeaders(header); err == nil && ok && usage.RegainAccessIn > 0 {
		return usage.RegainAccessIn
	}
	return DefaultRateLimitBackoff
}
