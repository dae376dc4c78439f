// Package queue is a durable priority queue of mutating requests made while
// offline. It knows nothing about HTTP: it persists entries and hands them
// to an Executor when drained.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/leonardcser/api-relay/internal/kv"
	"github.com/leonardcser/api-relay/internal/logger"
)

const (
	DefaultPrefix      = "@relay_queue:"
	DefaultMaxAttempts = 5

	liveNS = "live:"
	deadNS = "dead:"
)

type Options struct {
	Prefix string
	// MaxAttempts moves a request to the dead-letter namespace once it has
	// failed this many times.
	MaxAttempts int
	// Online, when set, is consulted before each send; a false result ends
	// the drain early.
	Online func() bool
	// Limiter paces sends during a drain. Nil means unlimited.
	Limiter *rate.Limiter
	Now     func() time.Time
}

type Queue struct {
	kv          kv.KV
	prefix      string
	maxAttempts int
	online      func() bool
	limiter     *rate.Limiter
	now         func() time.Time

	mu        sync.Mutex
	executor  Executor
	seq       uint64
	seqLoaded bool

	draining atomic.Bool
	periodic *periodic
}

func New(backing kv.KV, opts Options) *Queue {
	q := &Queue{
		kv:          backing,
		prefix:      opts.Prefix,
		maxAttempts: opts.MaxAttempts,
		online:      opts.Online,
		limiter:     opts.Limiter,
		now:         opts.Now,
	}
	if q.prefix == "" {
		q.prefix = DefaultPrefix
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	if q.limiter == nil {
		q.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// SetExecutor registers the function used to send queued requests.
func (q *Queue) SetExecutor(fn Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executor = fn
}

func (q *Queue) liveKey(id string) string { return q.prefix + liveNS + id }
func (q *Queue) deadKey(id string) string { return q.prefix + deadNS + id }

// Enqueue persists a request and returns its id.
func (q *Queue) Enqueue(endpoint, method string, body json.RawMessage, headers map[string]string, priority Priority) (string, error) {
	seq, err := q.nextSeq()
	if err != nil {
		return "", err
	}
	req := Request{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Method:     strings.ToUpper(method),
		Body:       body,
		Headers:    headers,
		Priority:   ParsePriority(string(priority)),
		EnqueuedAt: q.now(),
		Seq:        seq,
	}
	if err := q.put(q.liveKey(req.ID), req); err != nil {
		return "", err
	}
	logger.WithFields(logger.Fields{
		"id":       req.ID,
		"method":   req.Method,
		"endpoint": req.Endpoint,
		"priority": req.Priority,
	}).Info("queue: request enqueued")
	return req.ID, nil
}

// nextSeq continues numbering after whatever survived a restart.
func (q *Queue) nextSeq() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.seqLoaded {
		for _, ns := range []string{liveNS, deadNS} {
			reqs, err := q.load(ns)
			if err != nil {
				return 0, err
			}
			for _, r := range reqs {
				if r.Seq > q.seq {
					q.seq = r.Seq
				}
			}
		}
		q.seqLoaded = true
	}
	q.seq++
	return q.seq, nil
}

// List returns the live requests in drain order.
func (q *Queue) List() ([]Request, error) {
	reqs, err := q.load(liveNS)
	if err != nil {
		return nil, err
	}
	sortDrainOrder(reqs)
	return reqs, nil
}

// Len returns the number of live requests.
func (q *Queue) Len() (int, error) {
	keys, err := q.kv.Keys(q.prefix + liveNS)
	if err != nil {
		return 0, fmt.Errorf("queue: list: %w", err)
	}
	return len(keys), nil
}

// DeadLetters returns abandoned requests in drain order.
func (q *Queue) DeadLetters() ([]Request, error) {
	reqs, err := q.load(deadNS)
	if err != nil {
		return nil, err
	}
	sortDrainOrder(reqs)
	return reqs, nil
}

// Requeue moves a dead letter back to the live queue with its attempts reset.
func (q *Queue) Requeue(id string) error {
	req, err := q.get(q.deadKey(id))
	if err != nil {
		return err
	}
	req.Attempts = 0
	req.LastError = ""
	if err := q.put(q.liveKey(id), req); err != nil {
		return err
	}
	return q.kv.Delete(q.deadKey(id))
}

// Remove deletes a request from the live queue or the dead letters.
func (q *Queue) Remove(id string) error {
	found := false
	for _, key := range []string{q.liveKey(id), q.deadKey(id)} {
		if _, err := q.kv.Get(key); err == nil {
			found = true
			if err := q.kv.Delete(key); err != nil {
				return fmt.Errorf("queue: remove %s: %w", id, err)
			}
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Drain makes one pass over the requests queued when it starts, in priority
// then enqueue order, one at a time. A failed request stays queued with its
// attempt count raised and the pass moves on, so a persistently failing
// request cannot starve the ones behind it. Requests reaching the attempt
// ceiling are dead-lettered.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	if !q.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	exec := q.executor
	q.mu.Unlock()
	if exec == nil {
		return res, ErrNoExecutor
	}

	pending, err := q.List()
	if err != nil {
		return res, err
	}
	if len(pending) > 0 {
		logger.Infof("queue: draining %d request(s)", len(pending))
	}

	for _, snap := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if q.online != nil && !q.online() {
			res.Interrupted = true
			logger.Infof("queue: drain interrupted, connectivity lost")
			break
		}
		// It may have been removed since the snapshot.
		req, err := q.get(q.liveKey(snap.ID))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return res, err
		}

		res.Attempted++
		sendErr := q.execute(ctx, exec, req)
		if sendErr == nil {
			if err := q.kv.Delete(q.liveKey(req.ID)); err != nil {
				return res, fmt.Errorf("queue: remove %s: %w", req.ID, err)
			}
			res.Sent++
			continue
		}

		req.Attempts++
		req.LastError = sendErr.Error()
		if req.Attempts >= q.maxAttempts {
			if err := q.deadLetter(req); err != nil {
				return res, err
			}
			res.DeadLettered++
			logger.Warnf("queue: request %s dead-lettered after %d attempts: %v", req.ID, req.Attempts, sendErr)
			continue
		}
		if err := q.put(q.liveKey(req.ID), req); err != nil {
			return res, err
		}
		res.Failed++
		logger.Warnf("queue: request %s failed (attempt %d/%d): %v", req.ID, req.Attempts, q.maxAttempts, sendErr)
	}
	return res, nil
}

func (q *Queue) execute(ctx context.Context, exec Executor, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: executor panic: %v", r)
		}
	}()
	return exec(ctx, req)
}

func (q *Queue) deadLetter(req Request) error {
	if err := q.put(q.deadKey(req.ID), req); err != nil {
		return err
	}
	if err := q.kv.Delete(q.liveKey(req.ID)); err != nil {
		return fmt.Errorf("queue: remove %s: %w", req.ID, err)
	}
	return nil
}

func (q *Queue) get(key string) (Request, error) {
	var req Request
	raw, err := q.kv.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return req, ErrNotFound
	}
	if err != nil {
		return req, fmt.Errorf("queue: read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("queue: decode %s: %w", key, err)
	}
	return req, nil
}

func (q *Queue) put(key string, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", req.ID, err)
	}
	if err := q.kv.Put(key, raw); err != nil {
		return fmt.Errorf("queue: write %s: %w", req.ID, err)
	}
	return nil
}

func (q *Queue) load(ns string) ([]Request, error) {
	keys, err := q.kv.Keys(q.prefix + ns)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	reqs := make([]Request, 0, len(keys))
	for _, k := range keys {
		req, err := q.get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Warnf("queue: skipping unreadable entry %s: %v", k, err)
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func sortDrainOrder(reqs []Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		a, b := reqs[i], reqs[j]
		if ra, rb := a.Priority.rank(), b.Priority.rank(); ra != rb {
			return ra < rb
		}
		return a.Seq < b.Seq
	})
}
