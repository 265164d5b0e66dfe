package manifest

import "fmt"

// StateKind is the tag of UnitState
type StateKind string

const (
	StateIdle    StateKind = "idle"
	StateRunning StateKind = "running"
	StateError   StateKind = "error"
)

// UnitState is the cached run state of a unit. The lockfile on disk is
// authoritative; this value is re-derived from it on every scan.
type UnitState struct {
	Kind   StateKind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
}

func Idle() UnitState    { return UnitState{Kind: StateIdle} }
func Running() UnitState { return UnitState{Kind: StateRunning} }

// Errored builds the Error(reason) state
func Errored(reason string) UnitState {
	return UnitState{Kind: StateError, Reason: reason}
}

func (s UnitState) IsRunning() bool { return s.Kind == StateRunning }

func (s UnitState) String() string {
	if s.Kind == StateError {
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	if s.Kind == "" {
		return string(StateIdle)
	}
	return string(s.Kind)
}
