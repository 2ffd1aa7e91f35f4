package scheduler

import (
	"context"
	"time"

	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/registry"
)

const (
	// DefaultRetentionWindow bounds how long tombstones and journal
	// entries are kept for lagging clients. A client offline longer
	// than this falls back to a full snapshot.
	DefaultRetentionWindow = 30 * 24 * time.Hour
)

// RetentionSweeper periodically purges tombstones and journal entries
// that every known session has acknowledged and that have aged past the
// retention window.
type RetentionSweeper struct {
	engine   *merge.Engine
	registry *registry.Registry
	logger   logger.Logger
	interval time.Duration
	window   time.Duration
	stopCh   chan struct{}
}

// NewRetentionSweeper creates a new retention sweeper.
func NewRetentionSweeper(
	engine *merge.Engine,
	reg *registry.Registry,
	log logger.Logger,
	interval time.Duration,
	window time.Duration,
) *RetentionSweeper {
	if window == 0 {
		window = DefaultRetentionWindow
	}

	return &RetentionSweeper{
		engine:   engine,
		registry: reg,
		logger:   log,
		interval: interval,
		window:   window,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep. Sweeps run on their own cadence and
// never block mutation processing beyond the per-account lock.
func (rs *RetentionSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(rs.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rs.Sweep(ctx)
			case <-rs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the sweeper.
func (rs *RetentionSweeper) Stop() {
	close(rs.stopCh)
}

// Sweep runs one retention pass over every resident account.
func (rs *RetentionSweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-rs.window)
	totalPurged, totalTrimmed := 0, 0

	for _, accountID := range rs.engine.Accounts() {
		// With no live sessions nothing is lagging: everything past
		// the window is eligible.
		minAcked, ok := rs.registry.MinAckedRevision(accountID)
		if !ok {
			minAcked = ^uint64(0)
		}

		purged, trimmed, err := rs.engine.Sweep(ctx, accountID, minAcked, cutoff)
		if err != nil {
			rs.logger.Warn("retention sweep failed for account",
				logger.String("account_id", accountID),
				logger.Error(err))
			continue
		}
		totalPurged += purged
		totalTrimmed += trimmed
	}

	if totalPurged > 0 || totalTrimmed > 0 {
		rs.logger.Info("retention sweep completed",
			logger.Int("tombstones_purged", totalPurged),
			logger.Int("journal_entries_trimmed", totalTrimmed))
	} else {
		rs.logger.Debug("nothing to sweep")
	}
}
