// Package daemon runs the periodic work of the workflow service: draining
// the notification queue, executing due escalations, and handing domain
// events to publishers.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"radiology-workflow/internal/config"
	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/events"
	"radiology-workflow/internal/notify"
	"radiology-workflow/internal/workflow"
)

// Observer receives sweep measurements.
type Observer interface {
	ObserveDrain(critical.DrainResult)
	ObserveOverview(workflow.SystemOverview)
}

type SweepResult struct {
	Drain       critical.DrainResult
	Escalations int
	Published   int
}

type Daemon struct {
	engine    *workflow.Engine
	publisher events.Publisher
	observer  Observer
	interval  time.Duration
	logger    *slog.Logger

	sweeps    atomic.Int64
	lastSweep atomic.Int64
}

// New builds a daemon. publisher and observer may be nil.
func New(engine *workflow.Engine, publisher events.Publisher, observer Observer, interval time.Duration, logger *slog.Logger) *Daemon {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		engine:    engine,
		publisher: publisher,
		observer:  observer,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps immediately and then on every tick until ctx is canceled.
// Events emitted after the last tick are flushed before returning.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("workflow daemon started", "sweep_interval", d.interval)
	d.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.publish(flushCtx)
			cancel()
			d.logger.Info("workflow daemon stopped", "sweeps", d.sweeps.Load())
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Failures are logged and never stop the daemon.
func (d *Daemon) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	res.Drain = d.engine.ProcessNotifications(ctx)

	escalations, err := d.engine.CheckEscalations(ctx)
	if err != nil {
		d.logger.Error("escalation execution failed", "error", err)
	}
	res.Escalations = len(escalations)
	if res.Escalations > 0 {
		// Escalations queue new notifications; send them in the same pass.
		more := d.engine.ProcessNotifications(ctx)
		res.Drain.Sent += more.Sent
		res.Drain.Retrying += more.Retrying
		res.Drain.Failed += more.Failed
		res.Drain.Deferred = more.Deferred
	}

	res.Published = d.publish(ctx)

	overview := d.engine.SystemOverview()
	if d.observer != nil {
		d.observer.ObserveDrain(res.Drain)
		d.observer.ObserveOverview(overview)
	}

	d.sweeps.Add(1)
	d.lastSweep.Store(time.Now().UnixNano())
	d.logger.Debug("sweep complete",
		"sent", res.Drain.Sent,
		"retrying", res.Drain.Retrying,
		"failed", res.Drain.Failed,
		"deferred", res.Drain.Deferred,
		"escalations", res.Escalations,
		"published", res.Published,
		"active_work_items", overview.ActiveWorkItems,
	)
	return res
}

func (d *Daemon) publish(ctx context.Context) int {
	batch := d.engine.DrainEvents()
	if len(batch) == 0 || d.publisher == nil {
		return len(batch)
	}
	if err := d.publisher.Publish(ctx, batch); err != nil {
		d.logger.Error("publish domain events", "count", len(batch), "error", err)
	}
	return len(batch)
}

// Status reports sweep counters for health endpoints.
func (d *Daemon) Status() (sweeps int64, last time.Time) {
	n := d.lastSweep.Load()
	if n == 0 {
		return d.sweeps.Load(), time.Time{}
	}
	return d.sweeps.Load(), time.Unix(0, n)
}

// ApplyCatalog loads catalog data into the running engine: reviewers are
// added or updated, rules and policies are replaced, and the contact
// directory is swapped. A reviewer already on the roster keeps its
// workload and its availability flag, so a reload does not undo runtime
// availability changes.
func ApplyCatalog(engine *workflow.Engine, directory *notify.Directory, data *config.CatalogData) error {
	for _, r := range data.Reviewers {
		if live, err := engine.Router().Reviewer(r.ID); err == nil {
			merged := *r
			merged.Available = live.Available
			r = &merged
		}
		if err := engine.AddReviewer(r); err != nil {
			return fmt.Errorf("apply reviewer %s: %w", r.ID, err)
		}
	}
	if err := engine.Router().ReplaceRules(data.Rules); err != nil {
		return fmt.Errorf("apply routing rules: %w", err)
	}
	if err := engine.Critical().ReplacePolicies(data.Policies); err != nil {
		return fmt.Errorf("apply critical value policies: %w", err)
	}
	if directory != nil {
		directory.Replace(data.Contacts)
	}
	return nil
}
