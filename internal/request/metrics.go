package request

import (
	"sync"
	"time"
)

// Metrics is a snapshot of the orchestrator's counters.
type Metrics struct {
	TotalRequests       int64         `json:"totalRequests"`
	CacheHits           int64         `json:"cacheHits"`
	NetworkRequests     int64         `json:"networkRequests"`
	FailedRequests      int64         `json:"failedRequests"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
}

// Observer receives the same events as Metrics, for export. Implementations
// must be safe for concurrent use.
type Observer interface {
	Request(method string)
	CacheHit(stale bool)
	NetworkRequest(endpoint string, status int, elapsed time.Duration)
	Failure(code string)
	Queued()
}

type nopObserver struct{}

func (nopObserver) Request(string)                            {}
func (nopObserver) CacheHit(bool)                             {}
func (nopObserver) NetworkRequest(string, int, time.Duration) {}
func (nopObserver) Failure(string)                            {}
func (nopObserver) Queued()                                   {}

// recorder is owned by one Orchestrator and is the only writer of its
// counters.
type recorder struct {
	mu        sync.Mutex
	m         Metrics
	successes int64
	obs       Observer
}

func newRecorder(obs Observer) *recorder {
	if obs == nil {
		obs = nopObserver{}
	}
	return &recorder{obs: obs}
}

func (r *recorder) request(method string) {
	r.mu.Lock()
	r.m.TotalRequests++
	r.mu.Unlock()
	r.obs.Request(method)
}

func (r *recorder) cacheHit(stale bool) {
	r.mu.Lock()
	r.m.CacheHits++
	r.mu.Unlock()
	r.obs.CacheHit(stale)
}

// attempt counts one HTTP round trip. status is 0 for network failures.
func (r *recorder) attempt(endpoint string, status int, elapsed time.Duration) {
	r.mu.Lock()
	r.m.NetworkRequests++
	if status >= 200 && status < 300 {
		r.successes++
		// running mean over successful attempts
		r.m.AverageResponseTime += (elapsed - r.m.AverageResponseTime) / time.Duration(r.successes)
	}
	r.mu.Unlock()
	r.obs.NetworkRequest(endpoint, status, elapsed)
}

func (r *recorder) failure(code string) {
	r.mu.Lock()
	r.m.FailedRequests++
	r.mu.Unlock()
	r.obs.Failure(code)
}

func (r *recorder) queued() {
	r.obs.Queued()
}

func (r *recorder) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}
