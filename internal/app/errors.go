package app

import "fmt"

// Stage names the pipeline phase an error occurred in, mirroring the
// orchestrator's state machine.
type Stage string

const (
	StageEnumerate  Stage = "enumerating"
	StageBuild      Stage = "building"
	StageFetch      Stage = "fetching"
	StageArchive    Stage = "archiving"
	StageSweep      Stage = "sweeping"
	StageCheckpoint Stage = "checkpointing"
)

// StageError ties a failure to the segment and stage it happened in, so a
// failed run always reports what was being processed. The affected
// segment never advances the checkpoint.
type StageError struct {
	Stage   Stage
	Segment string
	Err     error
}

func (e *StageError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("segment %s: %s failed: %v", e.Segment, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
