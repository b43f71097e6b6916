// Package engine accepts tasks and runs them detached from the request that
// submitted them, on a fixed pool of workers fed by a bounded queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/pipeline"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("run queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("engine stopped")
)

// Runner executes one run to completion.
type Runner interface {
	Run(ctx context.Context, runID string, task models.Task) *pipeline.Result
}

// Config holds engine sizing.
type Config struct {
	Workers     int
	QueueSize   int
	RunTimeout  time.Duration
	HistorySize int
}

// Run is a point-in-time copy of a run's state.
type Run struct {
	ID        string           `json:"run_id"`
	Task      models.Task      `json:"task"`
	Repo      string           `json:"repo"`
	Stage     pipeline.Stage   `json:"stage"`
	Submitted time.Time        `json:"submitted_at"`
	Started   *time.Time       `json:"started_at,omitempty"`
	Finished  *time.Time       `json:"finished_at,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
}

type entry struct {
	mu  sync.RWMutex
	run Run
}

func (e *entry) snapshot() Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run
}

type job struct {
	id    string
	task  models.Task
	entry *entry
}

// Engine manages the queue, the workers and the bounded run history.
type Engine struct {
	cfg     Config
	queue   chan job
	runner  Runner
	history *lru.Cache[string, *entry]
	metrics *metrics.Metrics
	logger  zerolog.Logger
	clock   func() time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu      sync.Mutex // orders Submit against Stop
	stopped bool
}

// New creates an engine. Zero config fields get defaults: 4 workers, a queue
// of 100, a 15 minute run timeout and 256 remembered runs.
func New(cfg Config, runner Runner, m *metrics.Metrics, logger zerolog.Logger) (*Engine, error) {
	if runner == nil {
		return nil, errors.New("engine: runner is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 15 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	history, err := lru.New[string, *entry](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("engine: run history: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		queue:   make(chan job, cfg.QueueSize),
		runner:  runner,
		history: history,
		metrics: m,
		logger:  logger.With().Str("component", "engine").Logger(),
		clock:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the workers. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info().
		Int("workers", e.cfg.Workers).
		Int("queue_size", e.cfg.QueueSize).
		Dur("run_timeout", e.cfg.RunTimeout).
		Msg("engine started")
}

// Stop refuses new submissions, cancels in-flight runs and waits for the
// workers to return. Queued runs that never started are marked failed.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	if e.running.Swap(false) {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
	}
	dropped := e.dropQueued()
	e.logger.Info().Int("dropped", dropped).Msg("engine stopped")
}

func (e *Engine) dropQueued() int {
	dropped := 0
	for {
		select {
		case j := <-e.queue:
			now := e.clock()
			j.entry.mu.Lock()
			j.entry.run.Stage = pipeline.StageFailed
			j.entry.run.Finished = &now
			j.entry.run.Result = &pipeline.Result{
				RunID:    j.id,
				Task:     j.task,
				Ref:      j.entry.run.Repo,
				Stage:    pipeline.StageFailed,
				FailedAt: pipeline.StageAccepted,
				Error:    "dropped at shutdown: " + ErrStopped.Error(),
				Finished: now,
			}
			j.entry.mu.Unlock()
			e.logger.Warn().Str("run_id", j.id).Str("task", j.task.Task).Msg("queued run dropped at shutdown")
			dropped++
		default:
			e.metrics.SetQueueDepth(0)
			return dropped
		}
	}
}

// Submit enqueues task and returns its run ID without waiting for it to start.
func (e *Engine) Submit(task models.Task) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", ErrStopped
	}
	id := uuid.New().String()
	ent := &entry{run: Run{
		ID:        id,
		Task:      task,
		Repo:      models.ProjectRef(task),
		Stage:     pipeline.StageAccepted,
		Submitted: e.clock(),
	}}

	select {
	case e.queue <- job{id: id, task: task, entry: ent}:
	default:
		e.logger.Warn().Str("task", task.Task).Int("queue_size", e.cfg.QueueSize).Msg("queue full, rejecting task")
		return "", ErrQueueFull
	}
	e.history.Add(id, ent)
	e.metrics.SetQueueDepth(len(e.queue))
	e.logger.Info().
		Str("run_id", id).
		Str("task", task.Task).
		Int("round", task.Round).
		Msg("run enqueued")
	return id, nil
}

// Get returns a snapshot of the run with the given ID.
func (e *Engine) Get(id string) (Run, bool) {
	ent, ok := e.history.Peek(id)
	if !ok {
		return Run{}, false
	}
	return ent.snapshot(), true
}

// List returns snapshots of the remembered runs, newest first.
func (e *Engine) List() []Run {
	keys := e.history.Keys()
	out := make([]Run, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if ent, ok := e.history.Peek(keys[i]); ok {
			out = append(out, ent.snapshot())
		}
	}
	return out
}

// QueueDepth returns the number of queued runs and the queue capacity.
func (e *Engine) QueueDepth() (int, int) {
	return len(e.queue), cap(e.queue)
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case j := <-e.queue:
			e.metrics.SetQueueDepth(len(e.queue))
			e.execute(ctx, j, log)
		}
	}
}

func (e *Engine) execute(ctx context.Context, j job, log zerolog.Logger) {
	started := e.clock()
	j.entry.mu.Lock()
	j.entry.run.Started = &started
	j.entry.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()
	runCtx = pipeline.WithObserver(runCtx, func(s pipeline.Stage) {
		j.entry.mu.Lock()
		j.entry.run.Stage = s
		j.entry.mu.Unlock()
	})

	res := e.safeRun(runCtx, j, log)

	finished := e.clock()
	j.entry.mu.Lock()
	j.entry.run.Stage = res.Stage
	j.entry.run.Finished = &finished
	j.entry.run.Result = res
	j.entry.mu.Unlock()

	log.Info().
		Str("run_id", j.id).
		Str("stage", string(res.Stage)).
		Dur("elapsed", finished.Sub(started)).
		Msg("run finished")
}

// safeRun converts a runner panic into a failed result so the worker survives.
func (e *Engine) safeRun(ctx context.Context, j job, log zerolog.Logger) (res *pipeline.Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("run_id", j.id).Interface("panic", p).Msg("run panicked")
			res = &pipeline.Result{
				RunID:    j.id,
				Task:     j.task,
				Ref:      models.ProjectRef(j.task),
				Stage:    pipeline.StageFailed,
				FailedAt: j.entry.snapshot().Stage,
				Error:    fmt.Sprintf("panic: %v", p),
				Finished: e.clock(),
			}
		}
	}()
	res = e.runner.Run(ctx, j.id, j.task)
	if res == nil {
		return &pipeline.Result{RunID: j.id, Task: j.task, Stage: pipeline.StageFailed, Error: "runner returned no result"}
	}
	if !res.Stage.Terminal() {
		log.Error().Str("run_id", j.id).Str("stage", string(res.Stage)).Msg("run returned before a terminal stage")
		res.FailedAt = res.Stage
		res.Stage = pipeline.StageFailed
		res.Error = fmt.Sprintf("run ended in non-terminal stage %s", res.FailedAt)
	}
	return res
}
