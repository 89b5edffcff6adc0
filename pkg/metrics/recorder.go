package metrics

import "time"

// Outcome labels the final state of a transaction
type Outcome string

const (
	OutcomeCommitted      Outcome = "committed"
	OutcomeVerified       Outcome = "verified"
	OutcomeRolledBack     Outcome = "rolled_back"
	OutcomeRollbackFailed Outcome = "rollback_failed"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeNoop           Outcome = "noop"
)

// ResultLabel labels the result of one operation attempt
type ResultLabel string

const (
	ResultSuccess    ResultLabel = "success"
	ResultFailed     ResultLabel = "failed"
	ResultRolledBack ResultLabel = "rolled_back"
	ResultSkipped    ResultLabel = "skipped"
)

// Recorder defines the observability hooks of a transaction. Implementations
// must tolerate being called with zero durations.
type Recorder interface {
	IncTransaction(outcome Outcome)
	ObserveTransactionDuration(d time.Duration)
	IncOperation(kind string, result ResultLabel)
	ObserveOperationDuration(kind string, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncTransaction(Outcome)                         {}
func (NoopRecorder) ObserveTransactionDuration(time.Duration)       {}
func (NoopRecorder) IncOperation(string, ResultLabel)               {}
func (NoopRecorder) ObserveOperationDuration(string, time.Duration) {}

// OrNoop returns r, or a NoopRecorder when r is nil
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
