package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPoster struct {
	channels []string
	err      error
}

func (m *mockPoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	m.channels = append(m.channels, channelID)
	return channelID, "1234567890.123456", m.err
}

var done = Notice{
	RunID:    "run-1",
	Task:     "counter",
	Title:    "Counter App",
	Round:    1,
	Stage:    "DONE",
	RepoURL:  "https://github.com/octo/counter-n1",
	PagesURL: "https://octo.github.io/counter-n1/",
	Revision: "0123456789abcdef",
	Duration: 42 * time.Second,
}

func TestNotify_Posts(t *testing.T) {
	mock := &mockPoster{}
	n := NewNotifier(mock, "C123", zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), done))
	assert.Equal(t, []string{"C123"}, mock.channels)
}

func TestNotify_ErrorIsReturned(t *testing.T) {
	mock := &mockPoster{err: errors.New("channel_not_found")}
	n := NewNotifier(mock, "C404", zerolog.Nop())
	err := n.Notify(context.Background(), done)
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestNotify_NilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), done))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "✅ counter round 1 published: https://octo.github.io/counter-n1/", Summary(done))

	failed := Notice{Task: "counter", Round: 2, Stage: "SYNCING", Failed: true, Error: "creating project: 403"}
	assert.Equal(t, "❌ counter round 2 failed at SYNCING: creating project: 403", Summary(failed))
}

func TestBuildBlocks(t *testing.T) {
	blocks := BuildBlocks(done)
	require.Len(t, blocks, 2)
	section, ok := blocks[0].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "<https://github.com/octo/counter-n1>")
	assert.Contains(t, section.Text.Text, "`0123456789ab`")
	assert.Contains(t, section.Text.Text, "*Title:* Counter App")
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héé…", truncate("héééé", 3))

	got := Summary(Notice{Task: "t", Round: 1, Stage: "SYNCING", Failed: true, Error: strings.Repeat("é", 300)})
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("é", 200)+"…"))
}

func TestNewSlackNotifier_UsesAPIURL(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1.2"}`))
	}))
	defer server.Close()

	n := NewSlackNotifier("xoxb-test", "C123", server.URL, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), done))
	assert.Equal(t, []string{"C123"}, form["channel"])
	assert.Contains(t, form["text"][0], "counter round 1 published")
	assert.Contains(t, form["blocks"][0], "section")
}
