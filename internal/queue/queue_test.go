package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/api-relay/internal/kv"
)

// stepClock hands out strictly increasing times.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestQueue(t *testing.T, opts Options) (*Queue, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	if opts.Now == nil {
		clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts.Now = clock.Now
	}
	return New(mem, opts), mem
}

func TestEnqueuePersists(t *testing.T) {
	q, mem := newTestQueue(t, Options{})
	id, err := q.Enqueue("/messages", "post", json.RawMessage(`{"text":"hi"}`), map[string]string{"X-Trace": "1"}, PriorityHigh)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	raw, err := mem.Get(DefaultPrefix + "live:" + id)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "/messages", rec["endpoint"])
	assert.Equal(t, "POST", rec["method"])
	assert.Equal(t, "high", rec["priority"])
	assert.Equal(t, float64(0), rec["attempts"])
	assert.Contains(t, rec, "enqueuedAt")
	assert.Equal(t, map[string]any{"text": "hi"}, rec["body"])

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainOrderPriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	normal, err := q.Enqueue("/n", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	high1, err := q.Enqueue("/h1", "POST", nil, nil, PriorityHigh)
	require.NoError(t, err)
	low, err := q.Enqueue("/l", "POST", nil, nil, PriorityLow)
	require.NoError(t, err)
	high2, err := q.Enqueue("/h2", "POST", nil, nil, PriorityHigh)
	require.NoError(t, err)

	var order []string
	q.SetExecutor(func(_ context.Context, r Request) error {
		order = append(order, r.ID)
		return nil
	})
	res, err := q.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{high1, high2, normal, low}, order)
	assert.Equal(t, DrainResult{Attempted: 4, Sent: 4}, res)
	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFIFOWithinSameInstant(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, _ := newTestQueue(t, Options{Now: func() time.Time { return fixed }})
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue("/x", "PUT", nil, nil, PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	list, err := q.List()
	require.NoError(t, err)
	var got []string
	for _, r := range list {
		got = append(got, r.ID)
	}
	assert.Equal(t, ids, got)
}

func TestFIFOSurvivesClockStepBack(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	n := 0
	q, _ := newTestQueue(t, Options{Now: func() time.Time {
		now := times[n%len(times)]
		n++
		return now
	}})
	var ids []string
	for i := 0; i < len(times); i++ {
		id, err := q.Enqueue("/x", "POST", nil, nil, PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var order []string
	q.SetExecutor(func(_ context.Context, r Request) error {
		order = append(order, r.ID)
		return nil
	})
	_, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids, order)
}

func TestSeqContinuesPastDeadLetters(t *testing.T) {
	q, store := newTestQueue(t, Options{MaxAttempts: 1})
	first, err := q.Enqueue("/a", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	q.SetExecutor(func(context.Context, Request) error { return errors.New("down") })
	_, err = q.Drain(context.Background())
	require.NoError(t, err)

	restarted := New(store, Options{MaxAttempts: 1})
	second, err := restarted.Enqueue("/b", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, restarted.Requeue(first))

	list, err := restarted.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	assert.Less(t, list[0].Seq, list[1].Seq)
}

func TestFailureIncrementsAttemptsAndDoesNotBlock(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 3})
	poison, err := q.Enqueue("/poison", "POST", nil, nil, PriorityHigh)
	require.NoError(t, err)
	ok, err := q.Enqueue("/ok", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)

	var sent []string
	q.SetExecutor(func(_ context.Context, r Request) error {
		if r.Endpoint == "/poison" {
			return errors.New("boom")
		}
		sent = append(sent, r.ID)
		return nil
	})

	res, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 2, Sent: 1, Failed: 1}, res)
	assert.Equal(t, []string{ok}, sent)

	list, err := q.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, poison, list[0].ID)
	assert.Equal(t, 1, list[0].Attempts)
	assert.Equal(t, "boom", list[0].LastError)
}

func TestDeadLetterAfterCeilingAndRequeue(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 2})
	id, err := q.Enqueue("/poison", "DELETE", nil, nil, PriorityNormal)
	require.NoError(t, err)
	fail := true
	q.SetExecutor(func(context.Context, Request) error {
		if fail {
			return errors.New("nope")
		}
		return nil
	})

	res, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	dead, err := q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)

	res, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted, "dead letters are not drained")

	require.NoError(t, q.Requeue(id))
	list, err := q.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].Attempts)

	fail = false
	res, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.ErrorIs(t, q.Requeue(id), ErrNotFound)
}

func TestExecutorPanicIsContained(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue("/panic", "POST", nil, nil, PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue("/fine", "POST", nil, nil, PriorityLow)
	require.NoError(t, err)
	q.SetExecutor(func(_ context.Context, r Request) error {
		if r.Endpoint == "/panic" {
			panic("executor exploded")
		}
		return nil
	})

	res, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	list, err := q.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].LastError, "executor exploded")
}

func TestDrainStopsWhenOffline(t *testing.T) {
	online := true
	q, _ := newTestQueue(t, Options{Online: func() bool { return online }})
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("/x", "POST", nil, nil, PriorityNormal)
		require.NoError(t, err)
	}
	q.SetExecutor(func(context.Context, Request) error {
		online = false
		return nil
	})
	res, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Sent)
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDrainRequiresExecutor(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	_, err := q.Drain(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func TestDrainIsSingleFlight(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue("/slow", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	started := make(chan struct{})
	release := make(chan struct{})
	q.SetExecutor(func(context.Context, Request) error {
		close(started)
		<-release
		return nil
	})

	done := q.DrainAsync("test")
	<-started
	_, err = q.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)
	skipped := <-q.DrainAsync("overlap")
	assert.ErrorIs(t, skipped.Err, ErrDrainInProgress)
	assert.Zero(t, skipped.Attempted)
	close(release)
	res := <-done
	assert.Equal(t, 1, res.Sent)
	assert.NoError(t, res.Err)
}

func TestDrainHonoursContext(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue("/x", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	q.SetExecutor(func(context.Context, Request) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	id, err := q.Enqueue("/x", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, q.Remove(id))
	assert.ErrorIs(t, q.Remove(id), ErrNotFound)
}

func TestQueueSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.bbolt")
	store, err := kv.Open(path, kv.Options{})
	require.NoError(t, err)
	q := New(store, Options{})
	first, err := q.Enqueue("/a", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = kv.Open(path, kv.Options{})
	require.NoError(t, err)
	defer store.Close()
	q = New(store, Options{})
	second, err := q.Enqueue("/b", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)

	list, err := q.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	assert.Greater(t, list[1].Seq, list[0].Seq)
}

func TestPeriodicDrain(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue("/x", "POST", nil, nil, PriorityNormal)
	require.NoError(t, err)
	var mu sync.Mutex
	sent := 0
	q.SetExecutor(func(context.Context, Request) error {
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	})
	require.NoError(t, q.StartPeriodic(time.Second))
	defer q.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityNormal, ParsePriority("urgent"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
}
