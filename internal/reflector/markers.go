package reflector

import (
	"strings"

	"conveyor/internal/queue"
)

const defaultPrefix = "conveyor"

// Markers derives the tracker label names owned by this pipeline.
type Markers struct {
	prefix string
}

// NewMarkers builds the label scheme for a prefix. An empty prefix falls
// back to the default.
func NewMarkers(prefix string) Markers {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return Markers{prefix: prefix}
}

// InProgress names the marker for a live stage.
func (m Markers) InProgress(s queue.Stage) string {
	return m.prefix + "_" + string(s) + "_in_progress"
}

// Done names the marker for a successfully finished pass.
func (m Markers) Done() string { return m.prefix + "_done" }

// Errored names the marker for a failed pass.
func (m Markers) Errored() string { return m.prefix + "_errored" }

// NeedsAttention names the marker for a parked pass.
func (m Markers) NeedsAttention() string { return m.prefix + "_needs_attention" }

// RetryNeeded names the operator-set marker requesting a fresh pass.
func (m Markers) RetryNeeded() string { return m.prefix + "_retry_needed" }

// RetryRequested reports whether an operator asked for a fresh pass by
// applying the retry marker.
func (m Markers) RetryRequested(labels []string) bool {
	for _, label := range labels {
		if label == m.RetryNeeded() {
			return true
		}
	}
	return false
}

// Owns reports whether a label belongs to this pipeline's scheme.
func (m Markers) Owns(label string) bool {
	return strings.HasPrefix(label, m.prefix+"_")
}

// ForItem returns the desired marker for an item's current stage.
func (m Markers) ForItem(item *queue.Item) string {
	switch item.Stage {
	case queue.StageDone:
		return m.Done()
	case queue.StageError:
		return m.Errored()
	case queue.StageParked:
		return m.NeedsAttention()
	default:
		return m.InProgress(item.Stage)
	}
}
