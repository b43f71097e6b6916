// Package artifact models the set of files a pipeline run publishes and
// parses the generation service's delimited text output into that set.
package artifact

import (
	"fmt"
	"strings"
)

// Well-known paths the pipeline synthesizes.
const (
	IndexPath   = "index.html"
	ReadmePath  = "README.md"
	LicensePath = "LICENSE"
)

// File is a single generated file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Artifact is an ordered set of files with unique paths.
// Insertion order is preserved so commits happen in a deterministic order.
type Artifact struct {
	files []File
	index map[string]int
}

// New builds an artifact from files. Later duplicates replace earlier ones in place.
func New(files ...File) *Artifact {
	a := &Artifact{index: make(map[string]int, len(files))}
	for _, f := range files {
		a.Put(f)
	}
	return a
}

// Put adds f, or replaces the content of the file already at f.Path
// without changing its position.
func (a *Artifact) Put(f File) {
	if a.index == nil {
		a.index = make(map[string]int)
	}
	if i, ok := a.index[f.Path]; ok {
		a.files[i].Content = f.Content
		return
	}
	a.index[f.Path] = len(a.files)
	a.files = append(a.files, f)
}

// Get returns the file at path.
func (a *Artifact) Get(path string) (File, bool) {
	i, ok := a.index[path]
	if !ok {
		return File{}, false
	}
	return a.files[i], true
}

// Files returns a copy of the files in insertion order.
func (a *Artifact) Files() []File {
	out := make([]File, len(a.files))
	copy(out, a.files)
	return out
}

// Paths returns the file paths in insertion order.
func (a *Artifact) Paths() []string {
	out := make([]string, len(a.files))
	for i, f := range a.files {
		out[i] = f.Path
	}
	return out
}

// Len returns the number of files.
func (a *Artifact) Len() int { return len(a.files) }

// FallbackIndex wraps raw generation output in a minimal HTML page so a run
// whose output had no file markers still publishes something viewable.
func FallbackIndex(raw string) File {
	return File{
		Path:    IndexPath,
		Content: "<html><body><pre>" + escapeHTML(raw) + "</pre></body></html>",
	}
}

// MITLicense returns the LICENSE file for the given copyright year and holder.
func MITLicense(year int, holder string) File {
	return File{
		Path:    LicensePath,
		Content: fmt.Sprintf("MIT License\n\nCopyright (c) %d %s", year, strings.TrimSpace(holder)),
	}
}

// escapeHTML escapes only &, < and >; quotes are left intact inside <pre>.
func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Title returns a short human title derived from the first README heading, if any.
func (a *Artifact) Title() string {
	f, ok := a.Get(ReadmePath)
	if !ok {
		return ""
	}
	for _, line := range strings.Split(f.Content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
