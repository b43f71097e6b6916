// Package pipeline runs one accepted task to completion: generate, parse,
// document, assemble, synchronize, activate, wait for publication and
// report the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/archive"
	"github.com/p-blackswan/pagesmith/internal/artifact"
	"github.com/p-blackswan/pagesmith/internal/llm"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/notify"
	"github.com/p-blackswan/pagesmith/internal/prompt"
	"github.com/p-blackswan/pagesmith/internal/publish"
)

// Time allowed for the failure report and notice once the run deadline is gone.
const afterDeadlineBudget = 90 * time.Second

// Syncer synchronizes an artifact into the remote store.
type Syncer interface {
	Sync(ctx context.Context, target publish.Target, a *artifact.Artifact) (*publish.SyncResult, error)
}

// Activator enables publication and returns the expected publication URL.
type Activator interface {
	Activate(ctx context.Context, ref string) (string, error)
}

// Waiter blocks until a URL is served or its budget is spent.
type Waiter interface {
	WaitReady(ctx context.Context, url string) error
}

// Reporter posts a payload to a callback URL.
type Reporter interface {
	Report(ctx context.Context, url string, payload any) error
}

// Deps are the collaborators of a pipeline. Archive and Notifier are optional.
type Deps struct {
	Provider  llm.Provider
	Prompts   *prompt.Set
	Syncer    Syncer
	Activator Activator
	Waiter    Waiter
	Reporter  Reporter
	Archive   *archive.Archive
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics

	// Owner is the copyright holder written into LICENSE.
	Owner string
	// ReportFailures posts a models.Failure when a run fails.
	ReportFailures bool
	// OnStage observes every stage transition.
	OnStage func(runID string, stage Stage)
	Clock   func() time.Time
	Logger  zerolog.Logger
}

type observerKey struct{}

// WithObserver returns a context whose runs report every stage transition to fn.
func WithObserver(ctx context.Context, fn func(Stage)) context.Context {
	return context.WithValue(ctx, observerKey{}, fn)
}

func observerFrom(ctx context.Context) func(Stage) {
	fn, _ := ctx.Value(observerKey{}).(func(Stage))
	return fn
}

// Pipeline executes runs. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	d Deps
}

// New creates a pipeline.
func New(d Deps) *Pipeline {
	if d.Prompts == nil {
		d.Prompts = prompt.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	d.Logger = d.Logger.With().Str("component", "pipeline").Logger()
	return &Pipeline{d: d}
}

// Result is the record of one run.
type Result struct {
	RunID     string              `json:"run_id"`
	Task      models.Task         `json:"task"`
	Ref       string              `json:"repo"`
	Stage     Stage               `json:"stage"`
	FailedAt  Stage               `json:"failed_at,omitempty"`
	Error     string              `json:"error,omitempty"`
	Steps     []StepResult        `json:"steps"`
	Files     []string            `json:"files,omitempty"`
	Sync      *publish.SyncResult `json:"sync,omitempty"`
	PagesURL  string              `json:"pages_url,omitempty"`
	Reachable bool                `json:"reachable"`
	Reported  bool                `json:"reported"`
	Outcome   *models.Outcome     `json:"outcome,omitempty"`
	Started   time.Time           `json:"started_at"`
	Finished  time.Time           `json:"finished_at"`

	err error
}

// Err returns the fault that failed the run, or nil.
func (r *Result) Err() error { return r.err }

// Step returns the recorded result of stage s.
func (r *Result) Step(s Stage) (StepResult, bool) {
	for _, st := range r.Steps {
		if st.Stage == s {
			return st, true
		}
	}
	return StepResult{}, false
}

// run carries the mutable state of one execution.
type run struct {
	p      *Pipeline
	res    *Result
	log    zerolog.Logger
	watch  func(Stage)
	stage  Stage
	began  time.Time
	art    *artifact.Artifact
	output string
}

// Run executes the task under ctx and returns its record. Run never
// returns an error: unrecoverable faults end the run in StageFailed.
func (p *Pipeline) Run(ctx context.Context, runID string, task models.Task) *Result {
	ref := models.ProjectRef(task)
	r := &run{
		p: p,
		res: &Result{
			RunID:   runID,
			Task:    task,
			Ref:     ref,
			Started: p.d.Clock(),
		},
		log: p.d.Logger.With().
			Str("run_id", runID).
			Str("task", task.Task).
			Int("round", task.Round).
			Str("repo", ref).
			Logger(),
		watch: observerFrom(ctx),
	}
	p.d.Metrics.RunStarted()
	defer p.d.Metrics.RunFinished()

	r.enter(StageAccepted)
	r.finish(SeverityNone, "", nil)

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
	} else {
		r.enter(StageDone)
		r.res.Stage = StageDone
		r.log.Info().
			Str("pages_url", r.res.PagesURL).
			Bool("reachable", r.res.Reachable).
			Bool("reported", r.res.Reported).
			Msg("run complete")
	}

	r.res.Finished = p.d.Clock()
	p.d.Metrics.RecordRun(strings.ToLower(string(r.res.Stage)))
	r.notify(ctx)
	return r.res
}

func (r *run) execute(ctx context.Context) error {
	d := r.p.d
	task := r.res.Task

	r.enter(StageGenerating)
	genPrompt, err := d.Prompts.Generation(task.Brief, task.Attachments)
	if err != nil {
		return r.finish(SeverityUnrecoverable, "", err)
	}
	r.output, err = r.generate(ctx, genPrompt)
	if err != nil {
		return r.finish(SeverityUnrecoverable, "", fmt.Errorf("generation: %w", err))
	}
	r.finish(SeverityNone, fmt.Sprintf("%d bytes", len(r.output)), nil)

	r.enter(StageParsed)
	r.art = artifact.New(artifact.Parse(r.output)...)
	if r.art.Len() == 0 {
		r.log.Warn().Msg("no files parsed, using fallback index.html")
		r.art.Put(artifact.FallbackIndex(r.output))
		r.finish(SeverityNone, "fallback "+artifact.IndexPath, nil)
	} else {
		r.finish(SeverityNone, strings.Join(r.art.Paths(), ", "), nil)
	}

	r.enter(StageDocumenting)
	docPrompt, err := d.Prompts.Documentation(task.Brief, r.art.Paths())
	if err != nil {
		return r.finish(SeverityUnrecoverable, "", err)
	}
	readme, err := r.generate(ctx, docPrompt)
	if err == nil && strings.TrimSpace(readme) == "" {
		err = fmt.Errorf("%s: %w", d.Provider.ModelID(), llm.ErrEmptyResponse)
	}
	if err != nil {
		return r.finish(SeverityUnrecoverable, "", fmt.Errorf("documentation: %w", err))
	}
	r.finish(SeverityNone, "", nil)

	r.enter(StageAssembled)
	r.art.Put(artifact.File{Path: artifact.ReadmePath, Content: strings.TrimSpace(readme)})
	r.art.Put(artifact.MITLicense(d.Clock().Year(), d.Owner))
	r.res.Files = r.art.Paths()
	if n, err := d.Archive.Store(ctx, r.res.RunID, r.res.Ref, task.Round, r.art); err != nil {
		r.log.Warn().Err(err).Int("archived", n).Msg("artifact archive failed, continuing")
		r.finish(SeverityBestEffort, "archive", err)
	} else {
		r.finish(SeverityNone, fmt.Sprintf("%d files", r.art.Len()), nil)
	}

	r.enter(StageSyncing)
	sync, err := d.Syncer.Sync(ctx, publish.Target{Ref: r.res.Ref, Description: publish.Description(task.Task)}, r.art)
	if err != nil {
		return r.finish(SeverityUnrecoverable, "", err)
	}
	r.res.Sync = sync
	r.recordFiles(sync)
	written, unchanged, skipped := sync.Counts()
	detail := fmt.Sprintf("written=%d unchanged=%d skipped=%d revision=%s", written, unchanged, skipped, sync.Revision)
	if skipped > 0 {
		r.finish(SeverityRecoverable, detail, fmt.Errorf("%d of %d files skipped", skipped, len(sync.Files)))
	} else {
		r.finish(SeverityNone, detail, nil)
	}

	r.enter(StageActivating)
	r.res.PagesURL, err = d.Activator.Activate(ctx, r.res.Ref)
	r.bestEffort(r.res.PagesURL, err)

	r.enter(StagePolling)
	err = d.Waiter.WaitReady(ctx, r.res.PagesURL)
	r.res.Reachable = err == nil
	r.bestEffort("", err)

	r.enter(StageReporting)
	r.res.Outcome = &models.Outcome{
		Email:     task.Email,
		Task:      task.Task,
		Round:     task.Round,
		Nonce:     task.Nonce,
		RepoURL:   sync.ProjectURL,
		CommitSHA: sync.Revision,
		PagesURL:  r.res.PagesURL,
	}
	err = d.Reporter.Report(ctx, task.EvaluationURL, r.res.Outcome)
	r.res.Reported = err == nil
	r.bestEffort(task.EvaluationURL, err)
	return nil
}

func (r *run) generate(ctx context.Context, text string) (string, error) {
	resp, err := r.p.d.Provider.Complete(ctx, llm.UserPrompt(text))
	if err != nil {
		return "", err
	}
	r.p.d.Metrics.RecordTokens(resp.InputTokens, resp.OutputTokens)
	return resp.Text, nil
}

func (r *run) recordFiles(sync *publish.SyncResult) {
	for _, f := range sync.Files {
		if f.Skipped() {
			r.p.d.Metrics.RecordFile("skipped")
			continue
		}
		r.p.d.Metrics.RecordFile(string(f.Action))
	}
}

// enter moves the run to stage s.
func (r *run) enter(s Stage) {
	r.stage = s
	r.res.Stage = s
	r.began = r.p.d.Clock()
	r.log.Info().Str("stage", string(s)).Msg("stage")
	if r.p.d.OnStage != nil {
		r.p.d.OnStage(r.res.RunID, s)
	}
	if r.watch != nil {
		r.watch(s)
	}
}

// finish records the result of the current stage and returns err.
func (r *run) finish(sev Severity, detail string, err error) error {
	now := r.p.d.Clock()
	step := StepResult{
		Stage:    r.stage,
		Severity: sev,
		Detail:   detail,
		Started:  r.began,
		Duration: now.Sub(r.began),
	}
	if err != nil {
		step.Error = err.Error()
	}
	r.res.Steps = append(r.res.Steps, step)
	r.p.d.Metrics.ObserveStage(string(r.stage), step.Duration.Seconds())
	return err
}

func (r *run) bestEffort(detail string, err error) {
	if err != nil {
		r.log.Warn().Err(err).Str("stage", string(r.stage)).Msg("step failed, continuing")
		r.finish(SeverityBestEffort, detail, err)
		return
	}
	r.finish(SeverityNone, detail, nil)
}

func (r *run) fail(ctx context.Context, err error) {
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w (%v)", err, ctx.Err())
	}
	r.res.FailedAt = r.stage
	r.res.err = err
	r.res.Error = err.Error()
	r.log.Error().Err(err).Str("stage", string(r.stage)).Msg("run failed")

	r.enter(StageFailed)
	r.res.Stage = StageFailed

	task := r.res.Task
	if !r.p.d.ReportFailures || task.EvaluationURL == "" {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterDeadlineBudget)
	defer cancel()
	rerr := r.p.d.Reporter.Report(rctx, task.EvaluationURL, models.Failure{
		Email: task.Email,
		Task:  task.Task,
		Round: task.Round,
		Nonce: task.Nonce,
		Stage: string(r.res.FailedAt),
		Error: r.res.Error,
	})
	r.res.Reported = rerr == nil
	if rerr != nil {
		r.log.Warn().Err(rerr).Msg("failure report not delivered")
	}
}

func (r *run) notify(ctx context.Context) {
	if r.p.d.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	n := notify.Notice{
		RunID:    r.res.RunID,
		Task:     r.res.Task.Task,
		Round:    r.res.Task.Round,
		Stage:    string(r.res.Stage),
		Failed:   r.res.Stage == StageFailed,
		PagesURL: r.res.PagesURL,
		Error:    r.res.Error,
		Duration: r.res.Finished.Sub(r.res.Started),
	}
	if r.res.Failed() {
		n.Stage = string(r.res.FailedAt)
	}
	if r.art != nil {
		n.Title = r.art.Title()
	}
	if r.res.Sync != nil {
		n.RepoURL = r.res.Sync.ProjectURL
		n.Revision = r.res.Sync.Revision
	}
	_ = r.p.d.Notifier.Notify(nctx, n)
}

// Failed reports whether the run ended in StageFailed.
func (r *Result) Failed() bool { return r.Stage == StageFailed }
