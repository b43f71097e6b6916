// Package models holds the data types that flow through a pipeline run:
// the accepted task, the project it targets, and the reported outcome.
package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	perrors "github.com/p-blackswan/pagesmith/internal/errors"
)

// Attachment is an opaque reference supplied with a task.
// Callers send either {"name": ..., "url": ...} objects or bare strings.
type Attachment struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// UnmarshalJSON accepts both the object and the bare-string form.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.URL = s
		return nil
	}
	type plain Attachment
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("attachment must be a string or {name, url} object: %w", err)
	}
	*a = Attachment(p)
	return nil
}

// Label returns the attachment name, falling back to its URL.
func (a Attachment) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.URL
}

// Task is one accepted generation request. It is immutable once accepted.
type Task struct {
	Brief         string       `json:"brief"`
	Attachments   []Attachment `json:"attachments"`
	Email         string       `json:"email"`
	Task          string       `json:"task"`
	Round         int          `json:"round"`
	Nonce         string       `json:"nonce"`
	EvaluationURL string       `json:"evaluation_url"`
}

// Request is the inbound payload: a task plus the pre-shared secret.
type Request struct {
	Secret string `json:"secret"`
	Task
}

// Normalize applies defaults to optional fields.
func (t *Task) Normalize() {
	if t.Round <= 0 {
		t.Round = 1
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
	t.Task = strings.TrimSpace(t.Task)
	t.Nonce = strings.TrimSpace(t.Nonce)
	t.EvaluationURL = strings.TrimSpace(t.EvaluationURL)
}

// Validate checks the fields a run cannot proceed without.
func (t *Task) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Brief) == "" {
		missing = append(missing, "brief")
	}
	if t.Task == "" {
		missing = append(missing, "task")
	}
	if t.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if t.EvaluationURL == "" {
		missing = append(missing, "evaluation_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", perrors.ErrInvalidInput, strings.Join(missing, ", "))
	}

	u, err := url.Parse(t.EvaluationURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: evaluation_url must be an absolute http(s) URL", perrors.ErrInvalidInput)
	}
	if ProjectRef(*t) == "" {
		return fmt.Errorf("%w: task and nonce produce an empty project name", perrors.ErrInvalidInput)
	}
	return nil
}

// ProjectRef derives the remote project name for a task: "<task>-<nonce>",
// lower-cased, with every character outside [a-z0-9-] replaced by '-'.
// The same (task, nonce) always yields the same name.
func ProjectRef(t Task) string {
	raw := strings.ToLower(t.Task + "-" + t.Nonce)
	ref := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, raw)
	if strings.Trim(ref, "-") == "" {
		return ""
	}
	return ref
}

// Outcome is the structured result posted to the caller's evaluation URL.
type Outcome struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// Failure is posted instead of an Outcome when failure reporting is enabled
// and a run ends in the failed state.
type Failure struct {
	Email string `json:"email"`
	Task  string `json:"task"`
	Round int    `json:"round"`
	Nonce string `json:"nonce"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}
