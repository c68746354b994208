package stage

import "time"

// OutcomeKind enumerates the results a stage processor can report.
type OutcomeKind string

const (
	// KindAdvance moves the pass to the next pipeline stage.
	KindAdvance OutcomeKind = "advance"
	// KindRetry schedules another attempt of the same stage after backoff.
	KindRetry OutcomeKind = "retry"
	// KindReschedule defers the same stage without consuming an attempt,
	// typically while waiting on an external dependency.
	KindReschedule OutcomeKind = "reschedule"
	// KindPark moves the pass to the parked terminal for operator review.
	KindPark OutcomeKind = "park"
	// KindFail moves the pass to the errored terminal.
	KindFail OutcomeKind = "fail"
	// KindDone finishes the pass successfully regardless of remaining stages.
	KindDone OutcomeKind = "done"
)

// Outcome is a stage processor's verdict on one attempt. Construct values
// through the helpers below so Kind and its companions stay consistent.
type Outcome struct {
	Kind OutcomeKind

	// Next overrides the pipeline's default next stage on KindAdvance.
	// Empty means follow pipeline order.
	Next string

	// Delay is the requested wait before the item is due again. Only
	// meaningful for KindReschedule; retry delays come from the backoff
	// curve, not the processor.
	Delay time.Duration

	// Detail is a short human-readable explanation recorded on the item.
	Detail string
}

// Advance reports success and moves the item forward.
func Advance(detail string) Outcome {
	return Outcome{Kind: KindAdvance, Detail: detail}
}

// AdvanceTo reports success and routes the item to a specific stage.
func AdvanceTo(next, detail string) Outcome {
	return Outcome{Kind: KindAdvance, Next: next, Detail: detail}
}

// Retry requests another attempt after the configured backoff.
func Retry(detail string) Outcome {
	return Outcome{Kind: KindRetry, Detail: detail}
}

// Reschedule defers the item without consuming an attempt.
func Reschedule(delay time.Duration, detail string) Outcome {
	return Outcome{Kind: KindReschedule, Delay: delay, Detail: detail}
}

// Park sends the item to operator review.
func Park(detail string) Outcome {
	return Outcome{Kind: KindPark, Detail: detail}
}

// Fail ends the pass in the errored terminal.
func Fail(detail string) Outcome {
	return Outcome{Kind: KindFail, Detail: detail}
}

// Done finishes the pass successfully.
func Done(detail string) Outcome {
	return Outcome{Kind: KindDone, Detail: detail}
}

// Valid reports whether the kind is one of the known outcome kinds.
func (k OutcomeKind) Valid() bool {
	switch k {
	case KindAdvance, KindRetry, KindReschedule, KindPark, KindFail, KindDone:
		return true
	}
	return false
}
