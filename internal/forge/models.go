package forge

import (
	"encoding/base64"
	"strings"
	"time"
)

// Label is a repository label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Milestone is a repository milestone.
type Milestone struct {
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	OpenIssues   int        `json:"open_issues"`
	ClosedIssues int        `json:"closed_issues"`
	DueOn        *time.Time `json:"due_on"`
}

// Actor is the author of an issue, comment, or pull request.
type Actor struct {
	Login string `json:"login"`
}

// Issue is a repository issue.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	Labels    []Label    `json:"labels"`
	Milestone *Milestone `json:"milestone"`
	User      Actor      `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	// Issue listings include pull requests too; this field marks them.
	PullRequest *struct {
		HTMLURL string `json:"html_url"`
	} `json:"pull_request,omitempty"`
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// Comment is an issue comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      Actor     `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// RefPointer is the head or base of a pull request.
type RefPointer struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequest is a repository pull request.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	Draft     bool       `json:"draft"`
	Merged    bool       `json:"merged"`
	Mergeable *bool      `json:"mergeable"`
	Head      RefPointer `json:"head"`
	Base      RefPointer `json:"base"`
	User      Actor      `json:"user"`
	Labels    []Label    `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

// PullRequestFile is one changed file in a pull request or comparison.
type PullRequestFile struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	Patch            string `json:"patch,omitempty"`
}

// MergeResult is the response to a merge request.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// CheckRun is one CI check attached to a commit.
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, skipped, ...
	HTMLURL    string `json:"html_url"`
}

// Completed reports whether the run reached a terminal status.
func (c *CheckRun) Completed() bool { return c.Status == "completed" }

// Passed reports whether a completed run counts as green. Any terminal
// conclusion other than success or skipped fails the gate.
func (c *CheckRun) Passed() bool {
	return c.Conclusion == "success" || c.Conclusion == "skipped"
}

// Ref is a git reference.
type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

// RepoContent is a file fetched through the contents API.
type RepoContent struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Decode returns the file bytes. The contents API base64-encodes with
// embedded newlines.
func (c *RepoContent) Decode() ([]byte, error) {
	if c.Encoding != "base64" {
		return []byte(c.Content), nil
	}
	clean := strings.ReplaceAll(c.Content, "\n", "")
	return base64.StdEncoding.DecodeString(clean)
}

// Comparison is the result of comparing two commits.
type Comparison struct {
	Status       string             `json:"status"`
	AheadBy      int                `json:"ahead_by"`
	BehindBy     int                `json:"behind_by"`
	TotalCommits int                `json:"total_commits"`
	Files        []*PullRequestFile `json:"files"`
}
