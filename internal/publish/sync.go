package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/artifact"
	perrors "github.com/p-blackswan/pagesmith/internal/errors"
)

// UnknownRevision is reported when the latest revision cannot be read.
const UnknownRevision = "unknown"

// Action is the planned change for one path.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
)

// PlanEntry is the sync plan for one file, computed just before its write.
type PlanEntry struct {
	Path       string `json:"path"`
	Action     Action `json:"action"`
	PriorToken string `json:"prior_token,omitempty"`
}

// FileResult records what happened to one file.
type FileResult struct {
	PlanEntry
	Revision string `json:"revision,omitempty"`
	Conflict bool   `json:"conflict,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Skipped reports whether the file was not written because of a fault.
func (r FileResult) Skipped() bool { return r.Error != "" }

// SyncResult is the outcome of a completed sync.
type SyncResult struct {
	Project    *Project     `json:"-"`
	ProjectURL string       `json:"project_url"`
	Revision   string       `json:"revision"`
	Files      []FileResult `json:"files"`
}

// Counts returns the number of files per action, plus skipped files.
func (r *SyncResult) Counts() (written, unchanged, skipped int) {
	for _, f := range r.Files {
		switch {
		case f.Skipped():
			skipped++
		case f.Action == ActionUnchanged:
			unchanged++
		default:
			written++
		}
	}
	return written, unchanged, skipped
}

// Target names the project an artifact is synchronized into.
type Target struct {
	Ref         string
	Description string // used only when the project is created
}

// Synchronizer makes a remote project hold an artifact's files.
type Synchronizer struct {
	store  RemoteStore
	links  Links
	logger zerolog.Logger
}

// NewSynchronizer creates a synchronizer over store.
func NewSynchronizer(store RemoteStore, links Links, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:  store,
		links:  links,
		logger: logger.With().Str("component", "sync").Logger(),
	}
}

// Sync resolves or creates the project, then writes each file in artifact
// order. Only a failure to resolve or create the project is returned as an
// error; per-file faults are logged, recorded in the result and skipped.
func (s *Synchronizer) Sync(ctx context.Context, target Target, a *artifact.Artifact) (*SyncResult, error) {
	ref := target.Ref
	log := s.logger.With().Str("repo", ref).Logger()

	project, err := s.resolve(ctx, target, log)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Project: project, ProjectURL: project.URL}
	if result.ProjectURL == "" {
		result.ProjectURL = s.links.ProjectURL(ref)
	}

	// Writes stay sequential: each token is read immediately before it is used.
	for _, f := range a.Files() {
		result.Files = append(result.Files, s.syncFile(ctx, ref, f, log))
	}

	rev, err := s.store.LatestRevision(ctx, ref)
	if err != nil || rev == "" {
		log.Warn().Err(err).Msg("could not read latest revision")
		rev = UnknownRevision
	}
	result.Revision = rev

	written, unchanged, skipped := result.Counts()
	log.Info().
		Int("written", written).
		Int("unchanged", unchanged).
		Int("skipped", skipped).
		Str("revision", rev).
		Msg("sync complete")
	return result, nil
}

func (s *Synchronizer) resolve(ctx context.Context, target Target, log zerolog.Logger) (*Project, error) {
	ref := target.Ref
	description := target.Description
	if description == "" {
		description = Description(ref)
	}

	project, err := s.store.GetProject(ctx, ref)
	if err == nil {
		log.Info().Msg("project exists, updating files")
		return project, nil
	}
	if !errors.Is(err, perrors.ErrNotFound) {
		return nil, fmt.Errorf("resolving project %s: %w", ref, err)
	}

	log.Info().Msg("project not found, creating")
	project, err = s.store.CreateProject(ctx, ProjectSpec{
		Name:        ref,
		Description: description,
		Homepage:    s.links.PagesURL(ref),
		Public:      true,
		Publishable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating project %s: %w", ref, err)
	}
	return project, nil
}

// Plan computes the action for one file from the remote state at path.
func Plan(remote *RemoteFile, f artifact.File) PlanEntry {
	if remote == nil {
		return PlanEntry{Path: f.Path, Action: ActionCreate}
	}
	if remote.Content == f.Content {
		return PlanEntry{Path: f.Path, Action: ActionUnchanged, PriorToken: remote.Token}
	}
	return PlanEntry{Path: f.Path, Action: ActionUpdate, PriorToken: remote.Token}
}

func (s *Synchronizer) syncFile(ctx context.Context, ref string, f artifact.File, log zerolog.Logger) FileResult {
	flog := log.With().Str("path", f.Path).Logger()

	remote, err := s.store.GetFile(ctx, ref, f.Path)
	if err != nil && !errors.Is(err, perrors.ErrNotFound) {
		flog.Warn().Err(err).Msg("reading file revision failed, skipping file")
		return FileResult{PlanEntry: PlanEntry{Path: f.Path}, Error: err.Error()}
	}
	if err != nil {
		remote = nil
	}

	entry := Plan(remote, f)
	res := FileResult{PlanEntry: entry}
	if entry.Action == ActionUnchanged {
		flog.Debug().Msg("file unchanged")
		return res
	}

	msg := "Add " + f.Path
	if entry.Action == ActionUpdate {
		msg = "Update " + f.Path
	}
	rev, err := s.store.WriteFile(ctx, ref, FileWrite{
		Path:       f.Path,
		Content:    f.Content,
		Message:    msg,
		PriorToken: entry.PriorToken,
	})
	if err != nil {
		res.Error = err.Error()
		res.Conflict = errors.Is(err, perrors.ErrConflict)
		flog.Warn().Err(err).Bool("conflict", res.Conflict).Str("action", string(entry.Action)).Msg("file write failed, skipping file")
		return res
	}

	res.Revision = rev
	flog.Info().Str("action", string(entry.Action)).Str("revision", rev).Msg("file written")
	return res
}
