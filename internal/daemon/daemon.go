package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/collector"
	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/reflector"
	"conveyor/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	workflow  *workflow.Manager
	collector *collector.Collector
	reflector *reflector.Reflector

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies. The collector and
// reflector are optional; the daemon runs without tracker connectivity for
// purely local queues.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, coll *collector.Collector, refl *reflector.Reflector) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "conveyord.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		workflow:  wf,
		collector: coll,
		reflector: refl,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.cfg.DryRun {
		// Dispatching would persist stage transitions, so a dry-run daemon
		// only runs the collector and reflector in their logging-only mode.
		// Pipeline dry runs go through one-off processing on an isolated
		// store.
		d.logger.Info("dry run: dispatcher disabled, no queue mutations will be made")
	} else if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel

	if d.collector != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.collector.Run(runCtx)
		}()
	}
	if d.reflector != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.reflector.Run(runCtx, time.Minute)
		}()
	}

	d.running.Store(true)
	d.logger.Info("conveyor daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("dry_run", d.cfg.DryRun),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// ListQueue returns queue items filtered by optional stages.
func (d *Daemon) ListQueue(ctx context.Context, stages []queue.Stage) ([]*queue.Item, error) {
	if len(stages) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, stages...)
}

// CollectNow triggers an immediate collection pass.
func (d *Daemon) CollectNow(ctx context.Context) (collector.Result, error) {
	if d.collector == nil {
		return collector.Result{}, errors.New("collector not configured")
	}
	return d.collector.CollectOnce(ctx)
}

// ClearQueue removes all queue items.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearTerminal removes finished, errored, and parked items.
func (d *Daemon) ClearTerminal(ctx context.Context) (int64, error) {
	return d.store.ClearTerminal(ctx)
}

// RetryErrored opens fresh passes for errored items, optionally limited to
// specific keys.
func (d *Daemon) RetryErrored(ctx context.Context, keys []string) ([]string, error) {
	return d.store.RetryErrored(ctx, keys...)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) queue.DatabaseHealth {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
