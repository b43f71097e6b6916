package artifact

import (
	"regexp"
	"strings"
)

var (
	// markerRe matches a line like "=== path/to/file.ext ===" or "===file.ext===".
	// The name neither starts nor ends with '=' or whitespace.
	markerRe = regexp.MustCompile(`(?m)^={3,}[ \t]*([^=\s](?:.*?[^=\s])?)[ \t]*={3,}[ \t]*\r?$`)
	// strayRe matches a leading run of '=' echoed into a file body.
	strayRe = regexp.MustCompile(`^=+\s*`)
)

// Parse splits generation output into files using "=== name ===" marker lines.
// Content is the text between a marker and the next one, trimmed, with any
// leading run of '=' removed. Text with no markers yields an empty slice.
func Parse(text string) []File {
	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	files := make([]File, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := strings.TrimSpace(text[loc[1]:end])
		content = strayRe.ReplaceAllString(content, "")
		files = append(files, File{
			Path:    strings.TrimSpace(text[loc[2]:loc[3]]),
			Content: content,
		})
	}
	return files
}

// Render writes files in the marker convention Parse reads back.
func Render(files []File) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("=== ")
		b.WriteString(f.Path)
		b.WriteString(" ===\n")
		b.WriteString(f.Content)
	}
	return b.String()
}
