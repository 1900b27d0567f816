package domain

// PositionState is the per-symbol lifecycle reported in logs and the journal.
type PositionState string

const (
	StateIdle       PositionState = "idle"
	StateEvaluating PositionState = "evaluating"
	StateEntering   PositionState = "entering"
	StateLaddering  PositionState = "laddering"
	StateManaging   PositionState = "managing"
	StateClosed     PositionState = "closed"
)

// String returns the string representation.
func (s PositionState) String() string {
	return string(s)
}
