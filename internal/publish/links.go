package publish

import (
	"fmt"
	"strings"
)

// Links derives the public URLs of a project from the store owner.
type Links struct {
	Owner       string
	PagesDomain string // default "github.io"
	WebBaseURL  string // default "https://github.com"
}

// PagesURL returns https://{owner}.{domain}/{ref}/.
func (l Links) PagesURL(ref string) string {
	domain := l.PagesDomain
	if domain == "" {
		domain = "github.io"
	}
	return fmt.Sprintf("https://%s.%s/%s/", strings.ToLower(l.Owner), domain, ref)
}

// ProjectURL returns the web URL of the project.
func (l Links) ProjectURL(ref string) string {
	base := strings.TrimRight(l.WebBaseURL, "/")
	if base == "" {
		base = "https://github.com"
	}
	return fmt.Sprintf("%s/%s/%s", base, l.Owner, ref)
}

// Description returns the description given to a project created for task.
func Description(task string) string {
	return "Auto-generated repo for " + task
}
