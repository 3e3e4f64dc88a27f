package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name   string
	deps   []string
	result Result
	err    error
	calls  *[]string
}

func (f fakeStage) Name() string        { return f.name }
func (f fakeStage) DependsOn() []string { return f.deps }

func (f fakeStage) Run(_ context.Context, _ *Env) (Result, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	return f.result, f.err
}

func TestNewRunner_RejectsDuplicate(t *testing.T) {
	_, err := NewRunner([]Stage{fakeStage{name: "a"}, fakeStage{name: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRunner_RejectsForwardDependency(t *testing.T) {
	_, err := NewRunner([]Stage{fakeStage{name: "a", deps: []string{"b"}}, fakeStage{name: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on "b"`)
}

func TestNewRunner_DefaultStages(t *testing.T) {
	r, err := NewRunner(DefaultStages())
	require.NoError(t, err)

	plan := r.Plan()
	names := make([]string, len(plan))
	for i, p := range plan {
		names[i] = p.Name
	}
	assert.Equal(t, []string{
		StageLoadTowers, StageNormalizeGeom, StageSubsetTiles,
		StageClassifyRadio, StageAggregate, StageExport,
	}, names)
	assert.Equal(t, []string{StageNormalizeGeom, StageSubsetTiles, StageClassifyRadio}, plan[4].DependsOn)
}

func TestRun_SkipPropagatesToDependents(t *testing.T) {
	var calls []string
	stages := []Stage{
		fakeStage{name: "a", result: completed(1), calls: &calls},
		fakeStage{name: "b", result: skipped("input absent"), calls: &calls},
		fakeStage{name: "c", deps: []string{"a"}, calls: &calls},
		fakeStage{name: "d", deps: []string{"b", "c"}, calls: &calls},
		fakeStage{name: "e", deps: []string{"d"}, calls: &calls},
	}
	r, err := NewRunner(stages)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), &Env{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.Equal(t, Completed, sum.Outcome("a"))
	assert.Equal(t, Skipped, sum.Outcome("b"))
	assert.Equal(t, Completed, sum.Outcome("c"), "zero outcome defaults to completed")
	assert.Equal(t, Skipped, sum.Outcome("d"))
	assert.Equal(t, Skipped, sum.Outcome("e"))
	assert.Contains(t, sum.Results[3].Reason, "b")
	assert.NotEqual(t, uuid.Nil, sum.RunID)
}

func TestRun_FailureAborts(t *testing.T) {
	var calls []string
	boom := errors.New("psql: connection refused")
	stages := []Stage{
		fakeStage{name: "a", err: boom, calls: &calls},
		fakeStage{name: "b", calls: &calls},
	}
	r, err := NewRunner(stages)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), &Env{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, calls)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, Failed, sum.Results[0].Outcome)
	assert.Equal(t, Outcome(0), sum.Outcome("b"))
}

func TestRun_Cancelled(t *testing.T) {
	r, err := NewRunner([]Stage{fakeStage{name: "a"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Run(ctx, &Env{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_NotifiesObservers(t *testing.T) {
	obs := &mockObserver{}
	obs.On("StageStarted", "a").Once()
	obs.On("StageFinished", "a", Completed).Once()
	obs.On("StageStarted", "b").Once()
	obs.On("StageFinished", "b", Skipped).Once()
	obs.On("StageFinished", "c", Skipped).Once()

	stages := []Stage{
		fakeStage{name: "a", result: completed(0)},
		fakeStage{name: "b", result: skipped("no input")},
		fakeStage{name: "c", deps: []string{"b"}},
	}
	r, err := NewRunner(stages, obs)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), &Env{})
	require.NoError(t, err)
	obs.AssertExpectations(t)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

func TestSummaryArtifacts(t *testing.T) {
	sum := &Summary{Results: []Result{
		{Stage: "load_towers"},
		{Stage: "export", Artifacts: []string{"a.geojson", "b.geojson"}},
	}}
	assert.Equal(t, []string{"a.geojson", "b.geojson"}, sum.Artifacts())
}
