package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leonardcser/api-relay/internal/cache"
	"github.com/leonardcser/api-relay/internal/queue"
)

// Options configure a single call. Pointer fields distinguish "unset" from
// false; use Bool to fill them.
type Options struct {
	Method  string
	Params  url.Values
	Headers map[string]string
	// Body is sent as JSON. json.RawMessage and []byte are sent verbatim.
	Body any

	UseCache       *bool // default true
	RetryOnFailure *bool // default true
	OfflineSupport *bool // default true

	CacheTTL time.Duration
	Priority queue.Priority
	// Category overrides cache.CategoryFor(endpoint).
	Category cache.Category
	// Version overrides the configured schema version for this entry.
	Version string
}

// Bool returns a pointer to b for the tri-state Options fields.
func Bool(b bool) *bool { return &b }

// Response is the caller-facing envelope.
type Response struct {
	Data      json.RawMessage `json:"data"`
	Status    int             `json:"status"`
	FromCache bool            `json:"fromCache"`
	Message   string          `json:"message,omitempty"`
	Header    http.Header     `json:"-"`
}

// As decodes the response data into T.
func As[T any](r *Response) (T, error) {
	var out T
	if r == nil || len(r.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return out, fmt.Errorf("request: decode response: %w", err)
	}
	return out, nil
}

// call is the normalized form of one Do invocation.
type call struct {
	endpoint       string
	method         string
	params         url.Values
	headers        map[string]string
	body           []byte
	useCache       bool
	retry          bool
	offlineSupport bool
	ttl            time.Duration
	priority       queue.Priority
	category       cache.Category
	version        string
	key            string
}

func (c *call) mutating() bool {
	return isMutating(c.method)
}

// isMutating treats POST, PUT, PATCH and DELETE as writes.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// target is the endpoint with params folded into its query string, as it is
// persisted for offline replay.
func (c *call) target() string {
	if len(c.params) == 0 {
		return c.endpoint
	}
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + c.params.Encode()
}

func (o *Orchestrator) newCall(endpoint string, opts Options) (*call, error) {
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	c := &call{
		endpoint:       endpoint,
		method:         method,
		params:         opts.Params,
		headers:        opts.Headers,
		body:           body,
		useCache:       boolOr(opts.UseCache, true),
		retry:          boolOr(opts.RetryOnFailure, true),
		offlineSupport: boolOr(opts.OfflineSupport, true),
		ttl:            opts.CacheTTL,
		priority:       opts.Priority,
		category:       opts.Category,
		version:        opts.Version,
	}
	if c.ttl <= 0 {
		c.ttl = o.cfg.DefaultTTL
	}
	if c.priority == "" {
		c.priority = queue.PriorityNormal
	}
	if c.category == "" {
		c.category = cache.CategoryFor(endpoint)
	}
	if c.version == "" {
		c.version = o.cfg.SchemaVersion
	}
	c.key = KeyFor(c.method, c.endpoint, c.params, c.body)
	return c, nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return jsonMarshal(b)
	default:
		return jsonMarshal(v)
	}
}

func jsonMarshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("request: encode body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
