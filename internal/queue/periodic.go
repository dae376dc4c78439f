package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leonardcser/api-relay/internal/logger"
)

type periodic struct {
	cron *cron.Cron
}

// StartPeriodic drains the queue every interval until Stop is called.
// Overlapping runs are skipped.
func (q *Queue) StartPeriodic(interval time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.periodic != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		q.drainInBackground("timer")
	}); err != nil {
		return fmt.Errorf("queue: schedule drain: %w", err)
	}
	c.Start()
	q.periodic = &periodic{cron: c}
	return nil
}

// Stop halts periodic draining and waits for a running drain to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	p := q.periodic
	q.periodic = nil
	q.mu.Unlock()
	if p != nil {
		<-p.cron.Stop().Done()
	}
}

// DrainAsync starts a drain on its own goroutine and returns immediately.
// The returned channel receives the result once the drain ends.
func (q *Queue) DrainAsync(reason string) <-chan DrainResult {
	done := make(chan DrainResult, 1)
	go func() {
		done <- q.drainInBackground(reason)
	}()
	return done
}

func (q *Queue) drainInBackground(reason string) DrainResult {
	res, err := q.Drain(context.Background())
	res.Err = err
	switch {
	case errors.Is(err, ErrDrainInProgress), errors.Is(err, ErrNoExecutor):
		logger.Debugf("queue: %s drain skipped: %v", reason, err)
	case err != nil:
		logger.Errorf("queue: %s drain failed: %v", reason, err)
	case res.Attempted > 0:
		logger.Infof("queue: %s drain sent=%d failed=%d dead=%d", reason, res.Sent, res.Failed, res.DeadLettered)
	}
	return res
}
