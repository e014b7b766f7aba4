package export

import (
	"errors"
	"fmt"
)

// Stage is a state of the pipeline. Stages only move forward.
type Stage int

// Pipeline stages, in order.
const (
	StageUnloaded Stage = iota
	StageLoaded
	StageWrapped
	StageTraced
	StagePersisted
)

func (s Stage) String() string {
	switch s {
	case StageUnloaded:
		return "unloaded"
	case StageLoaded:
		return "loaded"
	case StageWrapped:
		return "wrapped"
	case StageTraced:
		return "traced"
	case StagePersisted:
		return "persisted"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

var (
	// ErrLoad is matched by failures to resolve, load, or wrap the model.
	ErrLoad = errors.New("load error")

	// ErrTrace is matched by failures to record the graph.
	ErrTrace = errors.New("trace error")

	// ErrPersist is matched by failures to write the artifact.
	ErrPersist = errors.New("persist error")

	// ErrStage is returned when an operation runs out of order.
	ErrStage = errors.New("operation out of order")
)

// StageError reports the stage that could not be reached and why.
// errors.Is matches both the stage's sentinel and the cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind(), e.Err)
}

// Unwrap returns the stage sentinel and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.kind(), e.Err}
}

func (e *StageError) kind() error {
	switch e.Stage {
	case StageLoaded, StageWrapped:
		return ErrLoad
	case StageTraced:
		return ErrTrace
	default:
		return ErrPersist
	}
}
