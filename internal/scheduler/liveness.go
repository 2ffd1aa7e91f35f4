package scheduler

import (
	"context"
	"time"

	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/registry"
)

// LivenessSweeper evicts sessions that missed two consecutive
// heartbeat intervals and releases their fan-out resources. Runs on its
// own cadence, independent of mutation processing.
type LivenessSweeper struct {
	registry   *registry.Registry
	dispatcher *fanout.Dispatcher
	logger     logger.Logger
	interval   time.Duration
	stopCh     chan struct{}
}

// NewLivenessSweeper creates a sweeper checking at the heartbeat
// interval; a session is stale after two missed intervals.
func NewLivenessSweeper(
	reg *registry.Registry,
	dispatcher *fanout.Dispatcher,
	log logger.Logger,
	heartbeatInterval time.Duration,
) *LivenessSweeper {
	return &LivenessSweeper{
		registry:   reg,
		dispatcher: dispatcher,
		logger:     log,
		interval:   heartbeatInterval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins periodic eviction checks.
func (ls *LivenessSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(ls.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ls.Evict(time.Now())
			case <-ls.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper.
func (ls *LivenessSweeper) Stop() {
	close(ls.stopCh)
}

// Evict drops every session stale at the given instant.
func (ls *LivenessSweeper) Evict(now time.Time) {
	evicted := ls.registry.EvictStale(now, 2*ls.interval)
	for _, sessionID := range evicted {
		ls.dispatcher.Drop(sessionID)
		ls.logger.Info("evicted stale session",
			logger.String("session_id", sessionID))
	}
}
