package github

import (
	"context"
	"errors"
	"fmt"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/pagesmith/internal/errors"
	"github.com/p-blackswan/pagesmith/internal/publish"
)

const service = "github"

// API yields an authenticated go-github client per call.
type API interface {
	API(ctx context.Context) (*gh.Client, error)
}

// Store is a publish.RemoteStore over the repositories of one owner.
type Store struct {
	api    API
	owner  string
	branch string
	org    bool
	logger zerolog.Logger
}

var _ publish.RemoteStore = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBranch makes reads and writes target branch instead of the
// repository's default branch.
func WithBranch(branch string) StoreOption {
	return func(s *Store) { s.branch = branch }
}

// AsOrganization creates repositories under the owner organization
// instead of the authenticated user.
func AsOrganization() StoreOption {
	return func(s *Store) { s.org = true }
}

// NewStore creates a store for the repositories of owner.
func NewStore(api API, owner string, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		api:    api,
		owner:  owner,
		logger: logger.With().Str("component", "github-store").Str("owner", owner).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the account the store writes to.
func (s *Store) Owner() string { return s.owner }

// Ping verifies the credentials work and the owner account exists.
func (s *Store) Ping(ctx context.Context) error {
	api, err := s.api.API(ctx)
	if err != nil {
		return err
	}
	_, resp, err := api.Users.Get(ctx, s.owner)
	if err != nil {
		return wrap(resp, err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, name string) (*publish.Project, error) {
	api, err := s.api.API(ctx)
	if err != nil {
		return nil, err
	}
	repo, resp, err := api.Repositories.Get(ctx, s.owner, name)
	if err != nil {
		return nil, wrap(resp, err)
	}
	return toProject(repo, false), nil
}

func (s *Store) CreateProject(ctx context.Context, spec publish.ProjectSpec) (*publish.Project, error) {
	api, err := s.api.API(ctx)
	if err != nil {
		return nil, err
	}
	org := ""
	if s.org {
		org = s.owner
	}
	repo, resp, err := api.Repositories.Create(ctx, org, &gh.Repository{
		Name:        gh.String(spec.Name),
		Description: gh.String(spec.Description),
		Homepage:    gh.String(spec.Homepage),
		Private:     gh.Bool(!spec.Public),
		HasPages:    gh.Bool(spec.Publishable),
	})
	if err != nil {
		return nil, wrap(resp, err)
	}
	s.logger.Info().Str("repo", repo.GetFullName()).Msg("repository created")
	return toProject(repo, true), nil
}

func (s *Store) GetFile(ctx context.Context, project, path string) (*publish.RemoteFile, error) {
	api, err := s.api.API(ctx)
	if err != nil {
		return nil, err
	}
	var opts *gh.RepositoryContentGetOptions
	if s.branch != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: s.branch}
	}
	file, dir, resp, err := api.Repositories.GetContents(ctx, s.owner, project, path, opts)
	if err != nil {
		return nil, wrap(resp, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s: %s is a directory (%d entries)", service, path, len(dir))
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("%s: decoding %s: %w", service, path, err)
	}
	return &publish.RemoteFile{Path: path, Token: file.GetSHA(), Content: content}, nil
}

func (s *Store) WriteFile(ctx context.Context, project string, w publish.FileWrite) (string, error) {
	api, err := s.api.API(ctx)
	if err != nil {
		return "", err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(w.Message),
		Content: []byte(w.Content),
	}
	if s.branch != "" {
		opts.Branch = gh.String(s.branch)
	}

	var (
		res  *gh.RepositoryContentResponse
		resp *gh.Response
	)
	if w.PriorToken == "" {
		res, resp, err = api.Repositories.CreateFile(ctx, s.owner, project, w.Path, opts)
	} else {
		opts.SHA = gh.String(w.PriorToken)
		res, resp, err = api.Repositories.UpdateFile(ctx, s.owner, project, w.Path, opts)
	}
	if err != nil {
		return "", wrap(resp, err)
	}
	return res.Commit.GetSHA(), nil
}

func (s *Store) EnablePublication(ctx context.Context, project string, src publish.PublicationSource) error {
	api, err := s.api.API(ctx)
	if err != nil {
		return err
	}
	_, resp, err := api.Repositories.EnablePages(ctx, s.owner, project, &gh.Pages{
		Source: &gh.PagesSource{
			Branch: gh.String(src.Branch),
			Path:   gh.String(src.Path),
		},
	})
	if err != nil {
		return wrap(resp, err)
	}
	return nil
}

func (s *Store) LatestRevision(ctx context.Context, project string) (string, error) {
	api, err := s.api.API(ctx)
	if err != nil {
		return "", err
	}
	commits, resp, err := api.Repositories.ListCommits(ctx, s.owner, project, &gh.CommitsListOptions{
		SHA:         s.branch,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", wrap(resp, err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("%s: %s has no commits: %w", service, project, perrors.ErrNotFound)
	}
	return commits[0].GetSHA(), nil
}

func toProject(repo *gh.Repository, created bool) *publish.Project {
	return &publish.Project{
		Name:          repo.GetName(),
		URL:           repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
		Created:       created,
	}
}

// wrap maps a go-github failure onto the shared error sentinels.
func wrap(resp *gh.Response, err error) error {
	var ghErr *gh.ErrorResponse
	switch {
	case errors.As(err, &ghErr) && ghErr.Response != nil:
		return perrors.WrapAPIError(service, ghErr.Response.StatusCode, err)
	case resp != nil && resp.Response != nil:
		return perrors.WrapAPIError(service, resp.StatusCode, err)
	default:
		return fmt.Errorf("%s: %w", service, err)
	}
}
