// Package publish synchronizes an artifact into a remote project store,
// activates static publication for it, and waits for it to be reachable.
package publish

import "context"

// Project is a resolved remote project.
type Project struct {
	Name          string
	URL           string
	DefaultBranch string
	Created       bool
}

// ProjectSpec describes a project to create.
type ProjectSpec struct {
	Name        string
	Description string
	Homepage    string
	Public      bool
	Publishable bool
}

// RemoteFile is the stored state of one path.
type RemoteFile struct {
	Path    string
	Token   string // revision token required to overwrite this path
	Content string
}

// FileWrite is a single create-or-update of one path.
// An empty PriorToken means the path must not exist yet.
type FileWrite struct {
	Path       string
	Content    string
	Message    string
	PriorToken string
}

// PublicationSource selects what a static publication serves.
type PublicationSource struct {
	Branch string
	Path   string
}

// RemoteStore is the versioned project store an artifact is synchronized into.
// Lookups of absent projects or paths return an error matching
// errors.ErrNotFound; a stale PriorToken returns one matching errors.ErrConflict.
type RemoteStore interface {
	GetProject(ctx context.Context, name string) (*Project, error)
	CreateProject(ctx context.Context, spec ProjectSpec) (*Project, error)
	GetFile(ctx context.Context, project, path string) (*RemoteFile, error)
	// WriteFile stores content at the path and returns the resulting revision.
	WriteFile(ctx context.Context, project string, w FileWrite) (string, error)
	EnablePublication(ctx context.Context, project string, src PublicationSource) error
	// LatestRevision returns the most recent revision of the project.
	LatestRevision(ctx context.Context, project string) (string, error)
}
