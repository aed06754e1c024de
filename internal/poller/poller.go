// Package poller drives the fetch, normalize and reconcile cycle on a fixed
// interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/flights"
)

// DefaultInterval is the period between poll cycles.
const DefaultInterval = 10 * time.Second

// BatchSource produces one batch of flights per call. It never fails; a
// degraded feed is reported inside the batch.
type BatchSource interface {
	Fetch(ctx context.Context) flights.Batch
}

// Target consumes each batch.
type Target interface {
	Reconcile(ctx context.Context, records []flights.Record) (reconcile.Result, error)
}

// Observer receives per-cycle instrumentation.
type Observer interface {
	ObserveBatch(b flights.Batch)
	ObserveCycle(b flights.Batch, err error)
}

// Stats summarizes the poller's activity.
type Stats struct {
	Cycles     int
	Fallbacks  int
	NotReady   int
	LastCycle  time.Time
	LastResult reconcile.Result
	LastError  string
	InRegion   int
}

// Poller runs cycles one at a time on the goroutine that calls Run.
type Poller struct {
	source   BatchSource
	target   Target
	interval time.Duration
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	stats Stats
}

// New creates a poller. interval <= 0 selects DefaultInterval.
func New(source BatchSource, target Target, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		source:   source,
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// SetObserver attaches an instrumentation observer.
func (p *Poller) SetObserver(o Observer) {
	p.observer = o
}

// Run performs a cycle immediately and then one per interval until ctx is
// cancelled.
//
// Cycles never overlap: a tick that fires while a cycle is running stays
// buffered in the ticker's single-slot channel, so at most one cycle is
// pending and further ticks are dropped.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval)
	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cycle. Errors are logged and returned; none of
// them is fatal to the poller.
func (p *Poller) RunOnce(ctx context.Context) (res reconcile.Result, err error) {
	var batch flights.Batch

	// A panic in one cycle must not stop the next
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
			p.logger.Error("poll cycle panicked, will retry on next cycle", "panic", r)
		}
		p.record(batch, res, err)
	}()

	batch = p.source.Fetch(ctx)
	if p.observer != nil {
		p.observer.ObserveBatch(batch)
	}
	p.logBatch(batch)

	res, err = p.target.Reconcile(ctx, batch.Records)
	switch {
	case errors.Is(err, reconcile.ErrTemplateNotReady):
		p.logger.Debug("aircraft template not loaded yet, cycle skipped")
	case err != nil:
		p.logger.Error("reconcile failed", "error", err)
	default:
		p.logger.Debug("reconciled",
			"created", res.Created, "updated", res.Updated,
			"retired", res.Retired, "unchanged", res.Unchanged, "failed", res.Failed)
	}
	return res, err
}

// Stats returns a copy of the running statistics.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) logBatch(b flights.Batch) {
	if b.Fallback {
		p.logger.Warn("using fallback flights", "count", len(b.Records), "error", b.Err)
	} else {
		p.logger.Info("live flights in region", "count", len(b.Records), "dropped", b.Dropped)
	}

	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, r := range b.Records {
		p.logger.Debug("flight",
			"id", r.Label(), "lat", r.Latitude, "lon", r.Longitude, "altitude_m", r.Altitude)
	}
}

func (p *Poller) record(b flights.Batch, res reconcile.Result, err error) {
	if p.observer != nil {
		p.observer.ObserveCycle(b, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Cycles++
	p.stats.LastCycle = time.Now()
	p.stats.LastResult = res
	p.stats.InRegion = len(b.Records)
	if b.Fallback {
		p.stats.Fallbacks++
	}
	if errors.Is(err, reconcile.ErrTemplateNotReady) {
		p.stats.NotReady++
	}
	p.stats.LastError = ""
	if err != nil {
		p.stats.LastError = err.Error()
	} else if b.Err != nil {
		p.stats.LastError = b.Err.Error()
	}
}
