// Package request is the resilient request layer. For every call the
// Orchestrator decides, in order, whether to serve from cache, whether to
// queue the call for later, which backend endpoint to use, whether to retry,
// and whether to fall back to stale cache.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leonardcser/api-relay/internal/cache"
	"github.com/leonardcser/api-relay/internal/logger"
	"github.com/leonardcser/api-relay/internal/queue"
)

const DefaultTimeout = 30 * time.Second

// Connectivity is the online predicate and its change feed.
type Connectivity interface {
	IsConnected() bool
	OnChange(fn func(online bool)) (unsubscribe func())
}

// CacheStore is the subset of *cache.Store the orchestrator uses.
type CacheStore interface {
	Get(key string, category cache.Category, expectedVersion string, ttl time.Duration) (json.RawMessage, error)
	GetIgnoringExpiry(key string, category cache.Category) (json.RawMessage, error)
	Set(key string, category cache.Category, payload json.RawMessage, ttl time.Duration, version string) error
}

// OfflineQueue is the subset of *queue.Queue the orchestrator uses.
type OfflineQueue interface {
	Enqueue(endpoint, method string, body json.RawMessage, headers map[string]string, priority queue.Priority) (string, error)
	SetExecutor(fn queue.Executor)
	DrainAsync(reason string) <-chan queue.DrainResult
}

type Config struct {
	PrimaryURL   string
	SecondaryURL string

	HTTPClient *http.Client
	// Timeout bounds each attempt.
	Timeout time.Duration
	Retry   RetryPolicy

	DefaultTTL    time.Duration
	SchemaVersion string

	Device DeviceInfo
	Tokens TokenSource
	// OnUnauthorized is told about 401 responses so the session can be ended.
	OnUnauthorized func(ctx context.Context)

	// Extra middleware runs after the built-in device, auth and JSON steps.
	RequestMiddleware  []RequestMiddleware
	ResponseMiddleware []ResponseMiddleware

	Observer Observer
	Now      func() time.Time
}

type Orchestrator struct {
	cfg       Config
	primary   *url.URL
	secondary *url.URL
	client    *http.Client
	before    []RequestMiddleware
	after     []ResponseMiddleware

	conn    Connectivity
	cache   CacheStore
	queue   OfflineQueue
	metrics *recorder
	now     func() time.Time

	unsubscribe func()
}

// New builds an Orchestrator. cacheStore and offline may be nil to disable
// caching or offline queueing. When a queue is given, New registers the
// replay executor and drains the queue whenever conn comes back online.
func New(cfg Config, conn Connectivity, cacheStore CacheStore, offline OfflineQueue) (*Orchestrator, error) {
	primary, err := parseBaseURL("primary", cfg.PrimaryURL)
	if err != nil {
		return nil, err
	}
	secondary, err := parseBaseURL("secondary", cfg.SecondaryURL)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("request: connectivity is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		client:    client,
		conn:      conn,
		cache:     cacheStore,
		queue:     offline,
		metrics:   newRecorder(cfg.Observer),
		now:       now,
	}
	o.before = append([]RequestMiddleware{
		DeviceHeaders(cfg.Device),
		BearerAuth(cfg.Tokens),
		JSONContent(),
	}, cfg.RequestMiddleware...)
	o.after = append([]ResponseMiddleware(nil), cfg.ResponseMiddleware...)

	if offline != nil {
		offline.SetExecutor(o.replay)
		o.unsubscribe = conn.OnChange(func(online bool) {
			if online {
				offline.DrainAsync("reconnect")
			}
		})
	}
	return o, nil
}

// Close detaches the orchestrator from connectivity notifications.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// Metrics returns a snapshot of the counters.
func (o *Orchestrator) Metrics() Metrics { return o.metrics.snapshot() }

// Do issues a request to endpoint, a path relative to the base URLs.
// Failures are always *APIError. A mutating call made while offline fails
// with CodeOfflineQueued and the queue id; that call will be sent later.
func (o *Orchestrator) Do(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.newCall(endpoint, opts)
	if err != nil {
		return nil, &APIError{Code: CodeHTTPError, Message: err.Error()}
	}
	o.metrics.request(c.method)
	log := logger.WithFields(logger.Fields{"method": c.method, "endpoint": c.endpoint})

	if !o.conn.IsConnected() {
		return o.offline(c)
	}

	res, err := o.execute(ctx, c)
	if err != nil {
		apiErr := toAPIError(err)
		o.metrics.failure(apiErr.Code)
		if apiErr.Code != CodeUnauthorized {
			if resp := o.stale(c, "Showing cached data because the request failed"); resp != nil {
				log.Warnf("request failed, serving stale cache: %v", apiErr)
				return resp, nil
			}
		}
		log.Errorf("request failed: %v", apiErr)
		return nil, apiErr
	}

	if c.useCache && !c.mutating() && o.cache != nil && len(res.Data) > 0 {
		if err := o.cache.Set(c.key, c.category, res.Data, c.ttl, c.version); err != nil {
			log.Warnf("cache write failed: %v", err)
		}
	}
	return res, nil
}

// offline handles a call made while disconnected: fresh cache, then the
// queue for writes, then stale cache.
func (o *Orchestrator) offline(c *call) (*Response, error) {
	if c.useCache && !c.mutating() && o.cache != nil {
		if data, err := o.cache.Get(c.key, c.category, c.version, c.ttl); err == nil {
			o.metrics.cacheHit(false)
			return &Response{Data: data, Status: http.StatusOK, FromCache: true}, nil
		}
	}

	if c.mutating() && c.offlineSupport && o.queue != nil {
		id, err := o.queue.Enqueue(c.target(), c.method, c.body, c.headers, c.priority)
		if err != nil {
			logger.Errorf("queue %s %s: %v", c.method, c.endpoint, err)
			o.metrics.failure(CodeNoConnection)
			return nil, &APIError{
				Code:    CodeNoConnection,
				Message: "No internet connection and the request could not be queued",
				Details: err.Error(),
			}
		}
		o.metrics.queued()
		return nil, &APIError{
			Code:      CodeOfflineQueued,
			Message:   "Request queued and will be sent when the connection is restored",
			Details:   map[string]string{"requestId": id},
			RequestID: id,
		}
	}

	if resp := o.stale(c, "You are offline; showing cached data"); resp != nil {
		return resp, nil
	}
	o.metrics.failure(CodeNoConnection)
	return nil, &APIError{Code: CodeNoConnection, Message: "No internet connection"}
}

// stale serves the entry for c regardless of age or version.
func (o *Orchestrator) stale(c *call, message string) *Response {
	if !c.useCache || o.cache == nil {
		return nil
	}
	data, err := o.cache.GetIgnoringExpiry(c.key, c.category)
	if err != nil {
		return nil
	}
	o.metrics.cacheHit(true)
	return &Response{Data: data, Status: http.StatusOK, FromCache: true, Message: message}
}

// execute tries the primary endpoint, then the secondary, each with its
// own retry budget. A 401 ends the call: the session is invalidated and the
// secondary is not tried with the same credentials.
func (o *Orchestrator) execute(ctx context.Context, c *call) (*Response, error) {
	res, err := o.withRetry(ctx, o.primary, c)
	if err == nil {
		return res, nil
	}
	if isUnauthorized(err) {
		o.unauthorized(ctx)
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, &networkError{Err: ctx.Err()}
	}
	logger.Warnf("%s %s: primary endpoint failed (%v), trying secondary", c.method, c.endpoint, err)

	res, err = o.withRetry(ctx, o.secondary, c)
	if err == nil {
		return res, nil
	}
	if isUnauthorized(err) {
		o.unauthorized(ctx)
	}
	return nil, err
}

func (o *Orchestrator) unauthorized(ctx context.Context) {
	logger.Warnf("request: 401 from backend, invalidating session")
	if o.cfg.OnUnauthorized != nil {
		o.cfg.OnUnauthorized(ctx)
	}
}

// withRetry runs attempts against base until one succeeds, the error is not
// retryable, or the attempt ceiling is reached. The last error is returned.
func (o *Orchestrator) withRetry(ctx context.Context, base *url.URL, c *call) (*Response, error) {
	limit := 1
	if c.retry {
		limit = o.cfg.Retry.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		res, err := o.attempt(ctx, base, c)
		if err == nil {
			return res, nil
		}
		if attempt >= limit || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		delay := o.cfg.Retry.Delay(attempt)
		logger.Debugf("%s %s: attempt %d failed (%v), retrying in %s", c.method, c.endpoint, attempt, err, delay)
		if sleep(ctx, delay) != nil {
			return nil, err
		}
	}
}

// attempt performs one HTTP round trip with the per-attempt timeout.
func (o *Orchestrator) attempt(ctx context.Context, base *url.URL, c *call) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := o.buildRequest(ctx, base, c)
	if err != nil {
		return nil, err
	}

	start := o.now()
	resp, err := o.client.Do(req)
	elapsed := o.now().Sub(start)
	if err != nil {
		o.metrics.attempt(base.Host, 0, elapsed)
		return nil, &networkError{Err: err}
	}
	defer resp.Body.Close()
	o.metrics.attempt(base.Host, resp.StatusCode, elapsed)

	body, err := readBody(resp)
	if err != nil {
		return nil, &networkError{Err: err}
	}
	for _, mw := range o.after {
		if err := mw(resp); err != nil {
			return nil, &APIError{Status: resp.StatusCode, Code: CodeHTTPError, Message: err.Error()}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: body, Header: resp.Header.Clone()}
	}
	return &Response{
		Data:   asJSON(body),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
	}, nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, base *url.URL, c *call) (*http.Request, error) {
	target, err := resolve(base, c.target())
	if err != nil {
		return nil, &APIError{Code: CodeHTTPError, Message: err.Error()}
	}
	var body io.Reader
	if len(c.body) > 0 {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, target, body)
	if err != nil {
		return nil, &APIError{Code: CodeHTTPError, Message: err.Error()}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, mw := range o.before {
		if err := mw(req); err != nil {
			return nil, &APIError{Code: CodeHTTPError, Message: err.Error()}
		}
	}
	return req, nil
}

// replay is the queue executor: it sends a queued request through the
// network path with caching and queueing disabled.
func (o *Orchestrator) replay(ctx context.Context, r queue.Request) error {
	if !o.conn.IsConnected() {
		return errors.New("request: offline")
	}
	c, err := o.newCall(r.Endpoint, Options{
		Method:         r.Method,
		Headers:        r.Headers,
		Body:           r.Body,
		UseCache:       Bool(false),
		OfflineSupport: Bool(false),
		Priority:       r.Priority,
	})
	if err != nil {
		return err
	}
	if _, err := o.execute(ctx, c); err != nil {
		return toAPIError(err)
	}
	logger.Infof("queue: replayed %s %s (%s)", r.Method, r.Endpoint, r.ID)
	return nil
}

func parseBaseURL(name, raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("request: %s URL is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("request: invalid %s URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("request: %s URL %q must be absolute", name, raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// resolve joins endpoint onto base, keeping the base path.
func resolve(base *url.URL, endpoint string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

const maxBodySize = 10 << 20

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// asJSON keeps JSON bodies verbatim and wraps anything else as a JSON string.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}
	return quoted
}
