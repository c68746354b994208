package reflector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services/tracker"
)

const projectTimeout = 15 * time.Second

// Reflector keeps tracker labels in step with queue state, eventually.
type Reflector struct {
	store   *queue.Store
	tracker tracker.API
	logger  *slog.Logger
	markers Markers
	dryRun  bool

	mu      sync.Mutex
	pending map[string]pendingProjection
}

type pendingProjection struct {
	itemID int64
	marker string
}

// New builds a reflector.
func New(cfg *config.Config, store *queue.Store, api tracker.API, logger *slog.Logger) *Reflector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reflector{
		store:   store,
		tracker: api,
		logger:  logger.With(logging.String(logging.FieldComponent, "reflector")),
		markers: NewMarkers(cfg.Tracker.LabelPrefix),
		dryRun:  cfg.DryRun,
	}
}

// Markers exposes the label scheme, shared with the collector.
func (r *Reflector) Markers() Markers {
	return r.markers
}

// Project pushes an item's current stage onto its tracker labels. Failures
// are remembered for a later flush; Project never returns an error because
// marker lag must not affect queue processing.
func (r *Reflector) Project(ctx context.Context, item *queue.Item) {
	marker := r.markers.ForItem(item)
	if item.ExternalMarker == marker {
		// Already applied, typically a retry that stayed in the same stage.
		r.forget(item.ItemKey)
		return
	}
	if err := r.apply(ctx, item.ItemKey, item.ID, marker); err != nil {
		logging.WithContext(ctx, r.logger).Warn("marker projection failed; will retry",
			logging.String(logging.FieldItemKey, item.ItemKey),
			logging.String("marker", marker),
			logging.Error(err),
		)
		r.remember(item.ItemKey, item.ID, marker)
		return
	}
	r.forget(item.ItemKey)
}

// FlushPending retries every projection that failed earlier. Newer state for
// the same key replaces older pending entries, so at most one write per key
// happens here.
func (r *Reflector) FlushPending(ctx context.Context) {
	r.mu.Lock()
	batch := make(map[string]pendingProjection, len(r.pending))
	for key, p := range r.pending {
		batch[key] = p
	}
	r.mu.Unlock()

	for key, p := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := r.apply(ctx, key, p.itemID, p.marker); err != nil {
			logging.WithContext(ctx, r.logger).Debug("pending marker still failing",
				logging.String(logging.FieldItemKey, key),
				logging.Error(err),
			)
			continue
		}
		r.forget(key)
	}
}

// PendingCount reports how many projections are waiting for a retry.
func (r *Reflector) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run flushes pending projections until the context is cancelled.
func (r *Reflector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.FlushPending(ctx)
		}
	}
}

func (r *Reflector) apply(ctx context.Context, key string, itemID int64, marker string) error {
	if r.dryRun {
		r.logger.Info("dry run: would project marker",
			logging.String(logging.FieldItemKey, key),
			logging.String("marker", marker),
		)
		return nil
	}

	applyCtx, cancel := context.WithTimeout(ctx, projectTimeout)
	defer cancel()

	labels, err := r.tracker.Labels(applyCtx, key)
	if err != nil {
		return err
	}

	present := false
	for _, label := range labels {
		if label == marker {
			present = true
			continue
		}
		// Retry markers belong to the operator and the collector; the
		// reflector leaves them alone.
		if r.markers.Owns(label) && label != r.markers.RetryNeeded() {
			if err := r.tracker.RemoveLabel(applyCtx, key, label); err != nil {
				return err
			}
		}
	}
	if !present {
		if err := r.tracker.AddLabel(applyCtx, key, marker); err != nil {
			return err
		}
	}

	if err := r.store.UpdateMarker(applyCtx, itemID, marker); err != nil {
		return err
	}
	return nil
}

func (r *Reflector) remember(key string, itemID int64, marker string) {
	r.mu.Lock()
	if r.pending == nil {
		r.pending = make(map[string]pendingProjection)
	}
	r.pending[key] = pendingProjection{itemID: itemID, marker: marker}
	r.mu.Unlock()
}

func (r *Reflector) forget(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}
