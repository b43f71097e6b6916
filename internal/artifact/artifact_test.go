package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TwoFiles(t *testing.T) {
	out := "Sure, here you go.\n" +
		"=== index.html ===\n<!doctype html>\n<html><body>hi</body></html>\n\n" +
		"=== js/app.js ===\nconsole.log('count');\n"

	files := Parse(out)
	require.Len(t, files, 2)
	assert.Equal(t, File{Path: "index.html", Content: "<!doctype html>\n<html><body>hi</body></html>"}, files[0])
	assert.Equal(t, File{Path: "js/app.js", Content: "console.log('count');"}, files[1])
}

func TestParse_NoMarkers(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("just some prose\nwith == a few == equals"))
	assert.NotNil(t, Parse("nothing"))
}

func TestParse_StripsStrayLeadingDelimiters(t *testing.T) {
	out := "=== index.html ===\n== <html></html>\n=== style.css ===\n====\nbody{}"
	files := Parse(out)
	require.Len(t, files, 2)
	assert.Equal(t, "<html></html>", files[0].Content)
	assert.Equal(t, "body{}", files[1].Content)
}

func TestParse_MarkerShape(t *testing.T) {
	tests := []struct {
		name string
		line string
		path string
		ok   bool
	}{
		{"three equals", "=== a.txt ===", "a.txt", true},
		{"longer runs", "====== b.txt =====", "b.txt", true},
		{"extra spacing", "===   c d.txt   ===", "c d.txt", true},
		{"nested path", "=== src/lib/util.js ===", "src/lib/util.js", true},
		{"crlf line ending", "=== e.txt ===\r", "e.txt", true},
		{"two equals", "== a.txt ==", "", false},
		{"no whitespace", "===a.txt===", "a.txt", true},
		{"single char name", "=== x ===", "x", true},
		{"separator line", "=========", "", false},
		{"indented", "  === a.txt ===", "", false},
		{"trailing text", "=== a.txt === extra", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := Parse(tt.line + "\nbody")
			if !tt.ok {
				assert.Empty(t, files)
				return
			}
			require.Len(t, files, 1)
			assert.Equal(t, tt.path, files[0].Path)
			assert.Equal(t, "body", files[0].Content)
		})
	}
}

func TestParse_EmptyBodies(t *testing.T) {
	files := Parse("=== a.txt ===\n=== b.txt ===\n")
	require.Len(t, files, 2)
	assert.Equal(t, "", files[0].Content)
	assert.Equal(t, "", files[1].Content)
}

func TestParse_Deterministic(t *testing.T) {
	out := "=== a ===\n1\n=== b ===\n2"
	assert.Equal(t, Parse(out), Parse(out))
}

func TestRender_RoundTrip(t *testing.T) {
	files := []File{
		{Path: "index.html", Content: "<html>\n  <body>counter</body>\n</html>"},
		{Path: "css/style.css", Content: "body { margin: 0; }"},
		{Path: "app.js", Content: "let n = 0;\n// a == b\nn++;"},
	}
	assert.Equal(t, files, Parse(Render(files)))
}

func TestArtifact_PutPreservesOrderAndUniqueness(t *testing.T) {
	a := New(
		File{Path: "index.html", Content: "v1"},
		File{Path: "README.md", Content: "generated readme"},
		File{Path: "app.js", Content: "js"},
	)
	a.Put(File{Path: "README.md", Content: "docs"})
	a.Put(MITLicense(2026, "octo"))

	assert.Equal(t, []string{"index.html", "README.md", "app.js", "LICENSE"}, a.Paths())
	readme, ok := a.Get(ReadmePath)
	require.True(t, ok)
	assert.Equal(t, "docs", readme.Content)
	assert.Equal(t, 4, a.Len())
}

func TestArtifact_FilesIsACopy(t *testing.T) {
	a := New(File{Path: "a", Content: "1"})
	files := a.Files()
	files[0].Content = "mutated"
	f, _ := a.Get("a")
	assert.Equal(t, "1", f.Content)
}

func TestFallbackIndex_EscapesHTML(t *testing.T) {
	f := FallbackIndex(`<script>alert("x")</script> & more`)
	assert.Equal(t, IndexPath, f.Path)
	assert.Equal(t, `<html><body><pre>&lt;script&gt;alert("x")&lt;/script&gt; &amp; more</pre></body></html>`, f.Content)
}

func TestMITLicense(t *testing.T) {
	f := MITLicense(2026, " octo ")
	assert.Equal(t, LicensePath, f.Path)
	assert.Equal(t, "MIT License\n\nCopyright (c) 2026 octo", f.Content)
}

func TestArtifact_Title(t *testing.T) {
	a := New(File{Path: ReadmePath, Content: "intro\n# Counter App\nmore"})
	assert.Equal(t, "Counter App", a.Title())
	assert.Equal(t, "", New().Title())
}
