package request

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leonardcser/api-relay/internal/cache"
	"github.com/leonardcser/api-relay/internal/connectivity"
	"github.com/leonardcser/api-relay/internal/kv"
	"github.com/leonardcser/api-relay/internal/queue"
)

type seenRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
	At     time.Time
}

// backend is an httptest server that records what it receives.
type backend struct {
	*httptest.Server
	mu   sync.Mutex
	seen []seenRequest
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int)) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.seen = append(b.seen, seenRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
			At:     time.Now(),
		})
		n := len(b.seen)
		b.mu.Unlock()
		handler(w, r, n)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) hits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

func (b *backend) requests() []seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]seenRequest(nil), b.seen...)
}

func status(code int, body string) func(http.ResponseWriter, *http.Request, int) {
	return func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	o       *Orchestrator
	monitor *connectivity.Monitor
	cache   *cache.Store
	queue   *queue.Queue
	clock   *testClock
	primary *backend
	second  *backend
}

func newHarness(t *testing.T, primary, secondary *backend, mutate ...func(*Config)) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	monitor := connectivity.NewMonitor()
	mem := kv.NewMemory()
	store := cache.NewStore(mem, cache.Options{Now: clock.Now})
	q := queue.New(mem, queue.Options{Online: monitor.IsConnected})

	cfg := Config{
		PrimaryURL:    primary.URL + "/api",
		SecondaryURL:  secondary.URL + "/api",
		Timeout:       2 * time.Second,
		Retry:         RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		DefaultTTL:    time.Minute,
		SchemaVersion: "v1",
		Device: DeviceInfo{
			DeviceID:   "device-1",
			IPAddress:  "10.0.0.7",
			DeviceType: "ios",
			OSVersion:  "17.6",
			AppVersion: "2.3.0",
		},
		Tokens: StaticToken("secret-token"),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	o, err := New(cfg, monitor, store, q)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return &harness{o: o, monitor: monitor, cache: store, queue: q, clock: clock, primary: primary, second: secondary}
}

// deadURL returns a base URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

var bg = context.Background()
