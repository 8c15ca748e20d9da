package domain

import "fmt"

// Stage identifies where in a batch run a failure happened.
type Stage string

const (
	StagePopulation Stage = "population"
	StageSampling   Stage = "sampling"
	StageSynthesis  Stage = "synthesis"
	StageEvaluation Stage = "evaluation"
	StageWrite      Stage = "write"
)

// PopulationError means the customer population could not be used:
// missing source, missing columns, duplicate ids, or nothing eligible.
// It aborts a run before any sampling.
type PopulationError struct {
	Source string
	Reason string
	Err    error
}

func (e *PopulationError) Error() string {
	msg := fmt.Sprintf("stage %s: population %q: %s", StagePopulation, e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PopulationError) Unwrap() error { return e.Err }

// GenerationError reports a violated internal invariant or invalid run
// parameters. No output is produced; it is never retried automatically.
type GenerationError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("stage %s: generation failed: %s", e.Stage, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SerializationError reports an unwritable destination. The generated
// batch is still in memory and the write step can be retried on its own.
type SerializationError struct {
	Destination string
	Err         error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("stage %s: cannot write %s: %v", StageWrite, e.Destination, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// NewGenerationError builds a GenerationError with a formatted reason.
func NewGenerationError(stage Stage, err error, format string, args ...any) *GenerationError {
	return &GenerationError{Stage: stage, Reason: fmt.Sprintf(format, args...), Err: err}
}
