package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper removes stale workspaces. workspace.Manager implements it.
type Sweeper interface {
	Sweep(olderThan time.Duration) (int, error)
}

// ReaperConfig controls the background sweep.
type ReaperConfig struct {
	Interval time.Duration
	// MaxAge is how long a unit may live before it is treated as leaked. It
	// must exceed the longest possible execution (max timeout plus grace).
	MaxAge time.Duration
}

// Reaper removes units and workspaces that outlived their execution, e.g.
// after the process crashed mid-request or a removal failed twice.
type Reaper struct {
	rt     Runtime
	ws     Sweeper
	cfg    ReaperConfig
	logger *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewReaper initializes a reaper; call Start to run it.
func NewReaper(rt Runtime, ws Sweeper, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reaper{
		rt:     rt,
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start removes everything left over from a previous process, then keeps
// sweeping in the background.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting orphan reaper", slog.Duration("interval", r.cfg.Interval), slog.Duration("maxAge", r.cfg.MaxAge))
		r.Sweep(context.Background(), 0)
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop ends the loop and runs a final full sweep. Call it after in-flight
// requests have drained.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("shutting down orphan reaper")
		close(r.done)
		r.wg.Wait()
		r.Sweep(context.Background(), 0)
	})
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(context.Background(), r.cfg.MaxAge)
		}
	}
}

// Sweep removes units and workspaces older than maxAge and reports how many of
// each it removed. Failures are logged and retried on the next pass.
func (r *Reaper) Sweep(ctx context.Context, maxAge time.Duration) (units, workspaces int) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	infos, err := r.rt.List(ctx)
	if err != nil {
		r.logger.Error("failed to list containers", slog.String("error", err.Error()))
	}
	cutoff := time.Now().Add(-maxAge)
	for _, u := range infos {
		if maxAge > 0 && u.Created.After(cutoff) {
			continue
		}
		if err := r.rt.Remove(ctx, u.ID); err != nil {
			r.logger.Error("failed to remove orphaned container",
				slog.String("containerId", shortID(u.ID)),
				slog.String("executionId", u.ExecutionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		units++
	}

	if r.ws != nil {
		n, err := r.ws.Sweep(maxAge)
		if err != nil {
			r.logger.Error("failed to sweep workspaces", slog.String("error", err.Error()))
		}
		workspaces = n
	}

	if units > 0 || workspaces > 0 {
		r.logger.Warn("reaped orphaned resources", slog.Int("containers", units), slog.Int("workspaces", workspaces))
	}
	return units, workspaces
}
