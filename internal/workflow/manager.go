package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// MarkerSink receives committed transitions so external markers can follow
// queue state. Projection is best effort; the manager never blocks or fails
// a transition on it.
type MarkerSink interface {
	Project(ctx context.Context, item *queue.Item)
}

// Manager coordinates queue dispatch across the pipeline stages.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	notifier     notifications.Service
	markers      MarkerSink
	pollInterval time.Duration
	retry        RetryPolicy
	heartbeat    *HeartbeatMonitor

	processors map[queue.Stage]stage.Processor

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *queue.Item
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retry: NewRetryPolicy(
			time.Duration(cfg.Workflow.RetryBackoffBase)*time.Second,
			time.Duration(cfg.Workflow.RetryBackoffCap)*time.Second,
		),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		processors: make(map[queue.Stage]stage.Processor),
	}
}

// SetMarkerSink attaches a best-effort marker projector.
func (m *Manager) SetMarkerSink(sink MarkerSink) {
	m.mu.Lock()
	m.markers = sink
	m.mu.Unlock()
}

// RetryPolicy exposes the manager's retry curve, mainly for status output.
func (m *Manager) RetryPolicy() RetryPolicy {
	return m.retry
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		cp := *item
		m.lastItem = &cp
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}

func (m *Manager) markerSink() MarkerSink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.markers
}
