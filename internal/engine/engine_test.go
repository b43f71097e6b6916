package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/pagesmith/internal/llm"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/pipeline"
)

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, runID string, task models.Task) *pipeline.Result

func (f runnerFunc) Run(ctx context.Context, runID string, task models.Task) *pipeline.Result {
	return f(ctx, runID, task)
}

func done(runID string, task models.Task) *pipeline.Result {
	return &pipeline.Result{RunID: runID, Task: task, Stage: pipeline.StageDone}
}

func testTask(nonce string) models.Task {
	return models.Task{Brief: "b", Task: "Counter", Round: 1, Nonce: nonce, EvaluationURL: "http://x/cb"}
}

func waitFor(t *testing.T, e *Engine, id string, stage pipeline.Stage) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		var ok bool
		run, ok = e.Get(id)
		return ok && run.Stage == stage
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(Config{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(Config{}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 4, e.cfg.Workers)
	assert.Equal(t, 15*time.Minute, e.cfg.RunTimeout)
	_, capacity := e.QueueDepth()
	assert.Equal(t, 100, capacity)
}

func TestEngine_SubmitRunsDetached(t *testing.T) {
	release := make(chan struct{})
	e, err := New(Config{Workers: 1, QueueSize: 4}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		<-release
		return done(id, task)
	}), metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(testTask("n1"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	run, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, "counter-n1", run.Repo)
	assert.Nil(t, run.Finished)

	close(release)
	run = waitFor(t, e, id, pipeline.StageDone)
	require.NotNil(t, run.Result)
	require.NotNil(t, run.Started)
	require.NotNil(t, run.Finished)
}

func TestEngine_QueueFull(t *testing.T) {
	e, err := New(Config{Workers: 1, QueueSize: 2}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)

	// Not started: nothing drains the queue.
	_, err = e.Submit(testTask("a"))
	require.NoError(t, err)
	_, err = e.Submit(testTask("b"))
	require.NoError(t, err)
	_, err = e.Submit(testTask("c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, e.List(), 2)

	depth, capacity := e.QueueDepth()
	assert.Equal(t, 2, depth)
	assert.Equal(t, 2, capacity)
}

// blockingProvider holds the first completion until released.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("generation unavailable")
}

func (b *blockingProvider) ModelID() string { return "blocking" }

func TestEngine_SnapshotFollowsPipelineStage(t *testing.T) {
	provider := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{})}
	p := pipeline.New(pipeline.Deps{Provider: provider, Logger: zerolog.Nop()})
	e, err := New(Config{Workers: 1}, p, nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(testTask("n1"))
	require.NoError(t, err)
	<-provider.entered

	run, _ := e.Get(id)
	assert.Equal(t, pipeline.StageGenerating, run.Stage)
	assert.NotNil(t, run.Started)
	assert.Nil(t, run.Finished)

	close(provider.release)
	run = waitFor(t, e, id, pipeline.StageFailed)
	assert.Equal(t, pipeline.StageGenerating, run.Result.FailedAt)
	assert.Contains(t, run.Result.Error, "generation unavailable")
}

func TestEngine_RunTimeoutCancelsRun(t *testing.T) {
	e, err := New(Config{Workers: 1, RunTimeout: 20 * time.Millisecond}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		<-ctx.Done()
		return &pipeline.Result{RunID: id, Stage: pipeline.StageFailed, Error: ctx.Err().Error()}
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(testTask("n1"))
	require.NoError(t, err)
	run := waitFor(t, e, id, pipeline.StageFailed)
	assert.Equal(t, context.DeadlineExceeded.Error(), run.Result.Error)
}

func TestEngine_PanicFailsRunAndWorkerSurvives(t *testing.T) {
	calls := 0
	e, err := New(Config{Workers: 1}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	first, err := e.Submit(testTask("a"))
	require.NoError(t, err)
	run := waitFor(t, e, first, pipeline.StageFailed)
	assert.Equal(t, "panic: boom", run.Result.Error)

	second, err := e.Submit(testTask("b"))
	require.NoError(t, err)
	waitFor(t, e, second, pipeline.StageDone)
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	e, err := New(Config{Workers: 1, QueueSize: 10, HistorySize: 2}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)

	var ids []string
	for _, n := range []string{"a", "b", "c"} {
		id, err := e.Submit(testTask(n))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, ok := e.Get(ids[0])
	assert.False(t, ok)

	runs := e.List()
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestEngine_NonTerminalResultIsFailed(t *testing.T) {
	e, err := New(Config{Workers: 1}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return &pipeline.Result{RunID: id, Task: task, Stage: pipeline.StagePolling}
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(testTask("a"))
	require.NoError(t, err)
	run := waitFor(t, e, id, pipeline.StageFailed)
	assert.Equal(t, pipeline.StagePolling, run.Result.FailedAt)
	assert.Contains(t, run.Result.Error, "non-terminal stage POLLING")
}

func TestEngine_StopFailsQueuedRuns(t *testing.T) {
	e, err := New(Config{Workers: 1, QueueSize: 4}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)

	// Never started, so both runs are still queued at Stop.
	a, err := e.Submit(testTask("a"))
	require.NoError(t, err)
	b, err := e.Submit(testTask("b"))
	require.NoError(t, err)
	e.Stop()

	for _, id := range []string{a, b} {
		run, ok := e.Get(id)
		require.True(t, ok)
		assert.Equal(t, pipeline.StageFailed, run.Stage)
		require.NotNil(t, run.Finished)
		require.NotNil(t, run.Result)
		assert.Equal(t, pipeline.StageAccepted, run.Result.FailedAt)
		assert.Contains(t, run.Result.Error, ErrStopped.Error())
	}
	depth, _ := e.QueueDepth()
	assert.Zero(t, depth)
}

func TestEngine_SubmitRacingStopNeverStrandsRuns(t *testing.T) {
	e, err := New(Config{Workers: 2, QueueSize: 64}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := e.Submit(testTask(fmt.Sprintf("n%d", i)))
			if err != nil {
				assert.ErrorIs(t, err, ErrStopped)
				return
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}(i)
	}
	e.Stop()
	wg.Wait()

	for _, id := range ids {
		run, ok := e.Get(id)
		require.True(t, ok)
		assert.True(t, run.Stage.Terminal(), "run %s left in %s", id, run.Stage)
	}
}

func TestEngine_StopRejectsSubmissions(t *testing.T) {
	e, err := New(Config{Workers: 2}, runnerFunc(func(ctx context.Context, id string, task models.Task) *pipeline.Result {
		return done(id, task)
	}), nil, zerolog.Nop())
	require.NoError(t, err)
	e.Start(context.Background())
	e.Start(context.Background())
	e.Stop()
	e.Stop()

	_, err = e.Submit(testTask("a"))
	assert.ErrorIs(t, err, ErrStopped)
}
