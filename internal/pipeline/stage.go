// Package pipeline runs the tower and speed-tile ETL as a fixed sequence of
// idempotent stages over the spatial datastore.
package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrPrecondition marks a fatal precondition failure, such as a missing input
// file. The error text carries the hint for the operator.
var ErrPrecondition = errors.New("precondition failed")

// Outcome is the result state of one stage.
type Outcome int

// Stage outcomes.
const (
	Completed Outcome = iota + 1
	Skipped
	Failed
)

// String returns the lower-case outcome name stored in the run log.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what a stage reports back to the runner.
type Result struct {
	Stage     string
	Outcome   Outcome
	Reason    string   // why the stage was skipped or failed
	Rows      int64    // rows loaded or produced, when known
	Artifacts []string // files written
	Started   time.Time
	Finished  time.Time
	Err       error
}

// Duration is the wall time of the stage.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Stage is one step of the pipeline.
type Stage interface {
	// Name is the unique stage identifier, e.g. "load_towers".
	Name() string
	// DependsOn lists stages that must have completed for this one to run.
	DependsOn() []string
	// Run executes the stage. A returned error aborts the run. A stage
	// whose input is absent returns a Skipped result and no error.
	Run(ctx context.Context, env *Env) (Result, error)
}

func completed(rows int64, artifacts ...string) Result {
	return Result{Outcome: Completed, Rows: rows, Artifacts: artifacts}
}

func skipped(reason string) Result {
	return Result{Outcome: Skipped, Reason: reason}
}
