// Package notify posts a short Slack notice for every finished run.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Poster abstracts the Slack API client for testing.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notice summarizes one finished run.
type Notice struct {
	RunID    string
	Task     string
	Round    int
	Title    string // first README heading, if any
	Stage    string
	Failed   bool
	RepoURL  string
	PagesURL string
	Revision string
	Error    string
	Duration time.Duration
}

// Notifier posts notices to one channel. A nil *Notifier is disabled.
type Notifier struct {
	api     Poster
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier using a bot token. apiURL overrides
// the Slack endpoint and is empty outside tests.
func NewSlackNotifier(botToken, channel, apiURL string, logger zerolog.Logger) *Notifier {
	opts := []slack.Option{}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return NewNotifier(slack.New(botToken, opts...), channel, logger)
}

// NewNotifier creates a notifier over an existing client.
func NewNotifier(api Poster, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "slack").Logger(),
	}
}

// Notify posts n. Failures are logged and returned; callers treat them as
// best effort.
func (n *Notifier) Notify(ctx context.Context, notice Notice) error {
	if n == nil {
		return nil
	}
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(Summary(notice), false),
		slack.MsgOptionBlocks(BuildBlocks(notice)...),
	)
	if err != nil {
		n.logger.Warn().Err(err).Str("run_id", notice.RunID).Msg("slack notice failed")
		return fmt.Errorf("posting slack notice: %w", err)
	}
	n.logger.Debug().Str("run_id", notice.RunID).Str("ts", ts).Msg("slack notice posted")
	return nil
}

// Summary returns the one-line fallback text of a notice.
func Summary(n Notice) string {
	if n.Failed {
		return fmt.Sprintf("❌ %s round %d failed at %s: %s", n.Task, n.Round, n.Stage, truncate(n.Error, 200))
	}
	return fmt.Sprintf("✅ %s round %d published: %s", n.Task, n.Round, n.PagesURL)
}

// BuildBlocks renders a notice as Block Kit blocks.
func BuildBlocks(n Notice) []slack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", Summary(n))
	if n.Title != "" {
		fmt.Fprintf(&b, "*Title:* %s\n", n.Title)
	}
	if n.RepoURL != "" {
		fmt.Fprintf(&b, "*Repo:* <%s>\n", n.RepoURL)
	}
	if n.Revision != "" {
		fmt.Fprintf(&b, "*Revision:* `%s`\n", truncate(n.Revision, 12))
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", "*Run:* "+n.RunID, false, false),
		slack.NewTextBlockObject("mrkdwn", "*Took:* "+n.Duration.Round(time.Second).String(), false, false),
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", strings.TrimSpace(b.String()), false, false), nil, nil),
		slack.NewSectionBlock(nil, fields, nil),
	}
}

// truncate shortens s to max runes, appending "…" if truncated.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
