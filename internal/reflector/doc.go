// Package reflector projects queue state onto tracker labels.
//
// Labels are a convenience view for humans watching the tracker, not the
// source of truth; the queue database is. Projection is eventually
// consistent: failed label writes are remembered and flushed on a later
// pass, and a transition is never blocked or rolled back because the
// tracker was unreachable.
package reflector
