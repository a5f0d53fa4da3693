package ledger

import "time"

// Outcome labels reported to an Observer.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// Observer receives engine telemetry.
type Observer interface {
	OperationFinished(operation, outcome string, elapsed time.Duration)
	CommitConflict(operation string)
}

type noopObserver struct{}

func (noopObserver) OperationFinished(string, string, time.Duration) {}
func (noopObserver) CommitConflict(string)                          {}
