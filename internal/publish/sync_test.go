package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/pagesmith/internal/artifact"
	perrors "github.com/p-blackswan/pagesmith/internal/errors"
)

func testLinks() Links { return Links{Owner: "octo"} }

func testArtifact() *artifact.Artifact {
	return artifact.New(
		artifact.File{Path: "index.html", Content: "<html>counter</html>"},
		artifact.File{Path: "README.md", Content: "# Counter"},
		artifact.File{Path: "LICENSE", Content: "MIT License"},
	)
}

func TestSync_CreatesProjectAndFiles(t *testing.T) {
	store := NewMemoryStore("octo")
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())

	res, err := s.Sync(context.Background(), Target{Ref: "counter-n1", Description: Description("counter")}, testArtifact())
	require.NoError(t, err)

	assert.Equal(t, []string{"counter-n1"}, store.Created)
	assert.Equal(t, "https://github.com/octo/counter-n1", res.ProjectURL)
	assert.Equal(t, "rev-0003", res.Revision)
	require.Len(t, res.Files, 3)
	for _, f := range res.Files {
		assert.Equal(t, ActionCreate, f.Action)
		assert.False(t, f.Skipped())
	}
	require.Len(t, store.Writes, 3)
	assert.Equal(t, "Add index.html", store.Writes[0].Message)
	assert.Equal(t, []string{"index.html", "README.md", "LICENSE"},
		[]string{store.Writes[0].Path, store.Writes[1].Path, store.Writes[2].Path})
}

func TestSync_Idempotent(t *testing.T) {
	store := NewMemoryStore("octo")
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())
	target := Target{Ref: "counter-n1"}

	first, err := s.Sync(context.Background(), target, testArtifact())
	require.NoError(t, err)
	writesAfterFirst := len(store.Writes)

	second, err := s.Sync(context.Background(), target, testArtifact())
	require.NoError(t, err)

	assert.Len(t, store.Created, 1, "second run must not create the project again")
	assert.Equal(t, writesAfterFirst, len(store.Writes), "unchanged files are not rewritten")
	written, unchanged, skipped := second.Counts()
	assert.Equal(t, 0, written)
	assert.Equal(t, 3, unchanged)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, first.Revision, second.Revision)

	for _, f := range testArtifact().Files() {
		got, ok := store.Content("counter-n1", f.Path)
		require.True(t, ok)
		assert.Equal(t, f.Content, got)
	}
}

func TestSync_UpdatesChangedFilesWithPriorToken(t *testing.T) {
	store := NewMemoryStore("octo")
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())
	target := Target{Ref: "counter-n1"}

	_, err := s.Sync(context.Background(), target, testArtifact())
	require.NoError(t, err)

	changed := testArtifact()
	changed.Put(artifact.File{Path: "index.html", Content: "<html>counter v2</html>"})
	res, err := s.Sync(context.Background(), target, changed)
	require.NoError(t, err)

	assert.Equal(t, ActionUpdate, res.Files[0].Action)
	assert.NotEmpty(t, res.Files[0].PriorToken)
	last := store.Writes[len(store.Writes)-1]
	assert.Equal(t, "Update index.html", last.Message)
	got, _ := store.Content("counter-n1", "index.html")
	assert.Equal(t, "<html>counter v2</html>", got)
}

func TestSync_PartialFailureSkipsFileAndContinues(t *testing.T) {
	store := NewMemoryStore("octo")
	store.FailWrite = func(project, path string) error {
		if path == "README.md" {
			return perrors.NewAPIError("memory", 500, "boom")
		}
		return nil
	}
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())

	res, err := s.Sync(context.Background(), Target{Ref: "counter-n1"}, testArtifact())
	require.NoError(t, err)

	assert.False(t, res.Files[0].Skipped())
	assert.True(t, res.Files[1].Skipped())
	assert.False(t, res.Files[1].Conflict)
	assert.False(t, res.Files[2].Skipped())

	_, ok := store.Content("counter-n1", "README.md")
	assert.False(t, ok)
	_, ok = store.Content("counter-n1", "index.html")
	assert.True(t, ok)
	assert.NotEqual(t, UnknownRevision, res.Revision)
	assert.NotEmpty(t, res.Revision)
}

func TestSync_ConflictIsFlaggedAndSkipped(t *testing.T) {
	store := NewMemoryStore("octo")
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())
	target := Target{Ref: "counter-n1"}
	_, err := s.Sync(context.Background(), target, testArtifact())
	require.NoError(t, err)

	// Another writer changes the file between our token read and our write.
	store.FailWrite = func(project, path string) error {
		if path == "index.html" {
			store.FailWrite = nil
			return perrors.NewAPIError("memory", 409, "index.html does not match")
		}
		return nil
	}
	changed := testArtifact()
	changed.Put(artifact.File{Path: "index.html", Content: "mine"})
	changed.Put(artifact.File{Path: "LICENSE", Content: "MIT License 2"})

	res, err := s.Sync(context.Background(), target, changed)
	require.NoError(t, err)
	assert.True(t, res.Files[0].Conflict)
	assert.True(t, res.Files[0].Skipped())
	assert.Equal(t, ActionUpdate, res.Files[2].Action)
	assert.False(t, res.Files[2].Skipped())
}

func TestSync_ResolveFaultAborts(t *testing.T) {
	store := NewMemoryStore("octo")
	store.FailGetProject = perrors.NewAPIError("memory", 502, "bad gateway")
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())

	res, err := s.Sync(context.Background(), Target{Ref: "counter-n1"}, testArtifact())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "resolving project counter-n1")
	assert.Empty(t, store.Writes)
}

func TestSync_UnknownRevisionWhenNothingWritten(t *testing.T) {
	store := NewMemoryStore("octo")
	store.FailWrite = func(project, path string) error { return errors.New("disk full") }
	s := NewSynchronizer(store, testLinks(), zerolog.Nop())

	res, err := s.Sync(context.Background(), Target{Ref: "empty-n1"}, testArtifact())
	require.NoError(t, err)
	assert.Equal(t, UnknownRevision, res.Revision)
	_, _, skipped := res.Counts()
	assert.Equal(t, 3, skipped)
}

func TestPlan(t *testing.T) {
	f := artifact.File{Path: "a", Content: "x"}
	assert.Equal(t, PlanEntry{Path: "a", Action: ActionCreate}, Plan(nil, f))
	assert.Equal(t, PlanEntry{Path: "a", Action: ActionUnchanged, PriorToken: "t"}, Plan(&RemoteFile{Token: "t", Content: "x"}, f))
	assert.Equal(t, PlanEntry{Path: "a", Action: ActionUpdate, PriorToken: "t"}, Plan(&RemoteFile{Token: "t", Content: "y"}, f))
}

func TestLinks(t *testing.T) {
	l := Links{Owner: "Octo"}
	assert.Equal(t, "https://octo.github.io/counter-n1/", l.PagesURL("counter-n1"))
	assert.Equal(t, "https://github.com/Octo/counter-n1", l.ProjectURL("counter-n1"))
	assert.Equal(t, "Auto-generated repo for counter", Description("counter"))

	custom := Links{Owner: "octo", PagesDomain: "pages.example.com", WebBaseURL: "https://git.example.com/"}
	assert.Equal(t, "https://octo.pages.example.com/r/", custom.PagesURL("r"))
	assert.Equal(t, "https://git.example.com/octo/r", custom.ProjectURL("r"))
}
