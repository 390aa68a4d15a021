/*
refresher.go - Background derived-state refresher

PURPOSE:
  Periodically materializes derived state for items that received new
  scan events since the previous pass, so the persisted correlation
  fields do not drift far behind the event log between reads.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Tracks a sequence watermark: only items with events past the
    watermark are refreshed, so quiet items cost nothing
  - Each pass advances the watermark AFTER a successful refresh, so a
    failed pass is retried in full on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the refresher is active (default: true)

USAGE:
  refresher := NewStateRefresher(store, handler.Reconciler, log)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: GetItemState endpoint (on-demand reconciliation)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
)

const refresherActor = "state-refresher"

// StateRefresher periodically persists reconciled state for recently
// scanned items.
type StateRefresher struct {
	Events        inventory.EventStore
	Reconciler    *inventory.Reconciler
	Log           *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool

	watermark int64
	ticker    *time.Ticker
	stop      chan bool
	wg        sync.WaitGroup
	mu        sync.Mutex

	// passMu serializes refresh passes: the ticker goroutine and RunNow
	// both read and advance the watermark. Separate from mu so a pass in
	// flight cannot deadlock Stop, which holds mu across wg.Wait.
	passMu sync.Mutex
}

// NewStateRefresher creates a new refresher.
func NewStateRefresher(events inventory.EventStore, reconciler *inventory.Reconciler, log *logrus.Logger) *StateRefresher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StateRefresher{
		Events:        events,
		Reconciler:    reconciler,
		Log:           log,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the refresher.
func (sr *StateRefresher) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.Log.Info("refresher disabled, not starting")
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)

	go sr.run()

	sr.Log.WithField("interval", sr.CheckInterval).Info("refresher started")
}

// Stop stops the refresher.
func (sr *StateRefresher) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.Log.Info("refresher stopped")
	}
}

func (sr *StateRefresher) run() {
	defer sr.wg.Done()

	// Run immediately on start
	sr.refreshPending()

	for {
		select {
		case <-sr.ticker.C:
			sr.refreshPending()
		case <-sr.stop:
			return
		}
	}
}

func (sr *StateRefresher) refreshPending() {
	sr.passMu.Lock()
	defer sr.passMu.Unlock()

	ctx := context.Background()

	latest, err := sr.Events.GlobalEventSeq(ctx)
	if err != nil {
		sr.Log.WithError(err).Error("refresher failed to read event sequence")
		return
	}
	if latest <= sr.watermark {
		return
	}

	ids, err := sr.Events.ItemsWithEventsSince(ctx, sr.watermark)
	if err != nil {
		sr.Log.WithError(err).Error("refresher failed to list pending items")
		return
	}
	if len(ids) == 0 {
		sr.watermark = latest
		return
	}

	if err := sr.Reconciler.RefreshItems(ctx, ids, refresherActor); err != nil {
		// Watermark untouched: the same items are retried next tick.
		sr.Log.WithError(err).WithField("items", len(ids)).Error("refresh pass failed")
		return
	}

	sr.watermark = latest
	sr.Log.WithFields(logrus.Fields{
		"items":     len(ids),
		"watermark": latest,
	}).Debug("refresh pass completed")
}

// RunNow triggers an immediate pass (for testing/admin).
func (sr *StateRefresher) RunNow() {
	sr.refreshPending()
}
