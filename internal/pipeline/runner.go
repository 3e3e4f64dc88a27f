package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Observer is notified as stages start and finish. Implementations must
// not fail the run; errors are theirs to log.
type Observer interface {
	StageStarted(ctx context.Context, runID uuid.UUID, stage string)
	StageFinished(ctx context.Context, runID uuid.UUID, res Result)
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID    uuid.UUID
	Results  []Result
	Started  time.Time
	Finished time.Time
}

// Artifacts lists every file written during the run.
func (s *Summary) Artifacts() []string {
	var out []string
	for _, r := range s.Results {
		out = append(out, r.Artifacts...)
	}
	return out
}

// Outcome returns the recorded outcome of stage, or 0 if it never ran.
func (s *Summary) Outcome(stage string) Outcome {
	for _, r := range s.Results {
		if r.Stage == stage {
			return r.Outcome
		}
	}
	return 0
}

// Runner executes stages in order, skipping any stage whose dependencies
// did not complete.
type Runner struct {
	stages    []Stage
	observers []Observer
}

// NewRunner validates the stage graph: names are unique and every
// dependency names an earlier stage.
func NewRunner(stages []Stage, observers ...Observer) (*Runner, error) {
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if seen[s.Name()] {
			return nil, eris.Errorf("pipeline: duplicate stage %q", s.Name())
		}
		for _, dep := range s.DependsOn() {
			if !seen[dep] {
				return nil, eris.Errorf("pipeline: stage %q depends on %q, which does not run before it", s.Name(), dep)
			}
		}
		seen[s.Name()] = true
	}
	return &Runner{stages: stages, observers: observers}, nil
}

// PlanEntry describes one stage for display.
type PlanEntry struct {
	Name      string
	DependsOn []string
}

// Plan returns the stages in execution order.
func (r *Runner) Plan() []PlanEntry {
	out := make([]PlanEntry, len(r.stages))
	for i, s := range r.stages {
		out[i] = PlanEntry{Name: s.Name(), DependsOn: s.DependsOn()}
	}
	return out
}

// Run executes every stage against env. The first stage error aborts the
// run and is returned together with the partial summary.
func (r *Runner) Run(ctx context.Context, env *Env) (*Summary, error) {
	sum := &Summary{RunID: uuid.New(), Started: time.Now().UTC()}
	log := zap.L().With(zap.String("component", "pipeline.runner"), zap.String("run_id", sum.RunID.String()))
	log.Info("pipeline run starting", zap.Int("stages", len(r.stages)))

	outcomes := make(map[string]Outcome, len(r.stages))
	defer func() { sum.Finished = time.Now().UTC() }()

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "pipeline: run cancelled")
		}

		name := stage.Name()
		stageLog := log.With(zap.String("stage", name))

		if blocked := blockedBy(stage, outcomes); len(blocked) > 0 {
			res := skipped("dependency not completed: " + strings.Join(blocked, ", "))
			res.Stage = name
			res.Started = time.Now().UTC()
			res.Finished = res.Started
			outcomes[name] = Skipped
			sum.Results = append(sum.Results, res)
			stageLog.Info("stage skipped", zap.String("reason", res.Reason))
			r.finished(ctx, sum.RunID, res)
			continue
		}

		r.started(ctx, sum.RunID, name)
		started := time.Now().UTC()
		res, err := stage.Run(ctx, env)
		res.Stage = name
		res.Started = started
		res.Finished = time.Now().UTC()

		if err != nil {
			res.Outcome = Failed
			res.Err = err
			res.Reason = err.Error()
			outcomes[name] = Failed
			sum.Results = append(sum.Results, res)
			stageLog.Error("stage failed", zap.Error(err), zap.Duration("elapsed", res.Duration()))
			r.finished(ctx, sum.RunID, res)
			return sum, eris.Wrapf(err, "pipeline: stage %s", name)
		}

		if res.Outcome == 0 {
			res.Outcome = Completed
		}
		outcomes[name] = res.Outcome
		sum.Results = append(sum.Results, res)

		switch res.Outcome {
		case Skipped:
			stageLog.Info("stage skipped", zap.String("reason", res.Reason))
		default:
			stageLog.Info("stage complete",
				zap.Int64("rows", res.Rows),
				zap.Strings("artifacts", res.Artifacts),
				zap.Duration("elapsed", res.Duration()),
			)
		}
		r.finished(ctx, sum.RunID, res)
	}

	log.Info("pipeline run complete", zap.Strings("artifacts", sum.Artifacts()))
	return sum, nil
}

func blockedBy(stage Stage, outcomes map[string]Outcome) []string {
	var blocked []string
	for _, dep := range stage.DependsOn() {
		if outcomes[dep] != Completed {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

func (r *Runner) started(ctx context.Context, runID uuid.UUID, stage string) {
	for _, o := range r.observers {
		o.StageStarted(ctx, runID, stage)
	}
}

func (r *Runner) finished(ctx context.Context, runID uuid.UUID, res Result) {
	for _, o := range r.observers {
		o.StageFinished(ctx, runID, res)
	}
}
