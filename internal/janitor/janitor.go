// Package janitor periodically evicts finished sessions from the store.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSchedule = "@every 5m"

// Evicter is satisfied by *relay.Store.
type Evicter interface {
	EvictFinished(olderThan time.Duration) int
}

type Janitor struct {
	target Evicter
	ttl    time.Duration
	cron   *cron.Cron
	logger *zap.Logger
}

// New registers the sweep on schedule. Schedules use the standard
// five-field syntax or descriptors such as "@every 5m".
func New(target Evicter, ttl time.Duration, schedule string, logger *zap.Logger) (*Janitor, error) {
	if target == nil {
		return nil, errors.New("janitor: nil target")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("janitor: ttl must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	j := &Janitor{
		target: target,
		ttl:    ttl,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		logger: logger,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep evicts once and returns the number of sessions removed.
func (j *Janitor) Sweep() int {
	n := j.target.EvictFinished(j.ttl)
	if n > 0 {
		j.logger.Info("janitor_evicted", zap.Int("count", n), zap.Duration("ttl", j.ttl))
	}
	return n
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling and waits for a running sweep or ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
