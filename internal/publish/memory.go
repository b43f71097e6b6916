package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	perrors "github.com/p-blackswan/pagesmith/internal/errors"
)

// MemoryStore is an in-process RemoteStore with per-path revision tokens.
// It backs local dry runs and tests. Failures can be injected per operation.
type MemoryStore struct {
	mu        sync.Mutex
	owner     string
	projects  map[string]*memProject
	revisions int

	// FailWrite, when set, is consulted before every write; a non-nil
	// result fails that write.
	FailWrite func(project, path string) error
	// FailGetProject, when set, fails project lookups.
	FailGetProject error
	// FailEnable, when set, fails publication activation.
	FailEnable error

	Writes  []FileWrite
	Enabled map[string]PublicationSource
	Created []string
}

type memProject struct {
	spec    ProjectSpec
	files   map[string]*RemoteFile
	commits []string
}

// NewMemoryStore creates an empty store for the given owner.
func NewMemoryStore(owner string) *MemoryStore {
	return &MemoryStore{
		owner:    owner,
		projects: make(map[string]*memProject),
		Enabled:  make(map[string]PublicationSource),
	}
}

func (m *MemoryStore) projectURL(name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", m.owner, name)
}

func (m *MemoryStore) GetProject(_ context.Context, name string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGetProject != nil {
		return nil, m.FailGetProject
	}
	if _, ok := m.projects[name]; !ok {
		return nil, fmt.Errorf("project %s: %w", name, perrors.ErrNotFound)
	}
	return &Project{Name: name, URL: m.projectURL(name), DefaultBranch: "main"}, nil
}

func (m *MemoryStore) CreateProject(_ context.Context, spec ProjectSpec) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[spec.Name]; ok {
		return nil, perrors.NewAPIError("memory", 422, "name already exists on this account")
	}
	m.projects[spec.Name] = &memProject{spec: spec, files: make(map[string]*RemoteFile)}
	m.Created = append(m.Created, spec.Name)
	return &Project{Name: spec.Name, URL: m.projectURL(spec.Name), DefaultBranch: "main", Created: true}, nil
}

func (m *MemoryStore) GetFile(_ context.Context, project, path string) (*RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[project]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", project, perrors.ErrNotFound)
	}
	f, ok := p.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, perrors.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) WriteFile(_ context.Context, project string, w FileWrite) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		if err := m.FailWrite(project, w.Path); err != nil {
			return "", err
		}
	}
	p, ok := m.projects[project]
	if !ok {
		return "", fmt.Errorf("project %s: %w", project, perrors.ErrNotFound)
	}

	current, exists := p.files[w.Path]
	switch {
	case exists && w.PriorToken == "":
		return "", perrors.NewAPIError("memory", 422, "sha wasn't supplied for "+w.Path)
	case !exists && w.PriorToken != "":
		return "", fmt.Errorf("%s: %w", w.Path, perrors.ErrNotFound)
	case exists && current.Token != w.PriorToken:
		return "", perrors.NewAPIError("memory", 409, w.Path+" does not match "+w.PriorToken)
	}

	p.files[w.Path] = &RemoteFile{Path: w.Path, Token: blobToken(w.Content), Content: w.Content}
	m.revisions++
	rev := fmt.Sprintf("rev-%04d", m.revisions)
	p.commits = append(p.commits, rev)
	m.Writes = append(m.Writes, w)
	return rev, nil
}

func (m *MemoryStore) EnablePublication(_ context.Context, project string, src PublicationSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEnable != nil {
		return m.FailEnable
	}
	if _, ok := m.Enabled[project]; ok {
		return perrors.NewAPIError("memory", 409, "publication already enabled")
	}
	m.Enabled[project] = src
	return nil
}

func (m *MemoryStore) LatestRevision(_ context.Context, project string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[project]
	if !ok {
		return "", fmt.Errorf("project %s: %w", project, perrors.ErrNotFound)
	}
	if len(p.commits) == 0 {
		return "", perrors.NewAPIError("memory", 409, "repository is empty")
	}
	return p.commits[len(p.commits)-1], nil
}

// Content returns the stored content at path, for assertions.
func (m *MemoryStore) Content(project, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[project]
	if !ok {
		return "", false
	}
	f, ok := p.files[path]
	if !ok {
		return "", false
	}
	return f.Content, true
}

// Edit simulates an external change to a stored path.
func (m *MemoryStore) Edit(project, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[project]; ok {
		p.files[path] = &RemoteFile{Path: path, Token: blobToken(content), Content: content}
	}
}

func blobToken(content string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("blob %d\x00%s", len(content), content)))
	return hex.EncodeToString(sum[:])
}

var _ RemoteStore = (*MemoryStore)(nil)
