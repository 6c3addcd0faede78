// Package forge is a minimal GitHub REST client scoped to one repository:
// issues, milestones, labels, pull requests, refs, contents, and check runs.
// Authentication is a static token or a GitHub App installation.
package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
)

const apiBase = "https://api.github.com"

// APIError carries the HTTP status so callers can branch on 404 (absent) and
// 422 (conflict or already-exists).
type APIError struct {
	Status   int
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API %s returned %d: %s", e.Endpoint, e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// TokenSource supplies the Authorization credential per request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed personal access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("empty GitHub token")
	}
	return string(t), nil
}

// Client talks to one repository.
type Client struct {
	owner      string
	repo       string
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a repository-scoped client.
func NewClient(owner, repo string, tokens TokenSource, log *logger.Logger) *Client {
	return &Client{
		owner:   owner,
		repo:    repo,
		baseURL: apiBase,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "forge"), zap.String("repo", owner+"/"+repo)),
	}
}

// WithBaseURL retargets the client, e.g. at a GitHub Enterprise API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	derived := *c
	derived.baseURL = strings.TrimSuffix(baseURL, "/")
	return &derived
}

// NewFromEnv builds a client from GITHUB_REPOSITORY ("owner/repo") plus
// either GitHub App credentials or GITHUB_TOKEN.
func NewFromEnv(getenv func(string) string, log *logger.Logger) (*Client, error) {
	slug := getenv("GITHUB_REPOSITORY")
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("GITHUB_REPOSITORY must be owner/repo, got %q", slug)
	}
	tokens, err := TokenFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	return NewClient(parts[0], parts[1], tokens, log), nil
}

// Owner returns the repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name.
func (c *Client) Repo() string { return c.repo }

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Endpoint: endpoint, Message: string(raw)}
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// NewIssue describes an issue to create.
type NewIssue struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Milestone int      `json:"milestone,omitempty"`
}

// CreateIssue opens an issue.
func (c *Client) CreateIssue(ctx context.Context, issue NewIssue) (*Issue, error) {
	var created Issue
	if err := c.do(ctx, http.MethodPost, c.repoPath("/issues"), issue, &created); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &created, nil
}

// IssueListOptions filters ListIssues. Milestone is a milestone number as a
// string, "*" for any, or empty for no filter.
type IssueListOptions struct {
	Milestone string
	Labels    []string
	State     string // open, closed, all
	Since     *time.Time
	PerPage   int
}

// ListIssues lists repository issues. Pull requests returned by the issues
// API are filtered out.
func (c *Client) ListIssues(ctx context.Context, opts IssueListOptions) ([]*Issue, error) {
	q := url.Values{}
	if opts.Milestone != "" {
		q.Set("milestone", opts.Milestone)
	}
	if len(opts.Labels) > 0 {
		q.Set("labels", strings.Join(opts.Labels, ","))
	}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Since != nil {
		q.Set("since", opts.Since.Format(time.RFC3339))
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	q.Set("per_page", strconv.Itoa(perPage))

	var raw []*Issue
	if err := c.do(ctx, http.MethodGet, c.repoPath("/issues?%s", q.Encode()), nil, &raw); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	issues := make([]*Issue, 0, len(raw))
	for _, issue := range raw {
		if issue.PullRequest == nil {
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// GetIssue fetches one issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, c.repoPath("/issues/%d", number), nil, &issue); err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return &issue, nil
}

// ListIssueComments lists comments on an issue.
func (c *Client) ListIssueComments(ctx context.Context, number int) ([]*Comment, error) {
	var comments []*Comment
	endpoint := c.repoPath("/issues/%d/comments?per_page=100", number)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &comments); err != nil {
		return nil, fmt.Errorf("list comments on #%d: %w", number, err)
	}
	return comments, nil
}

// CreateIssueComment posts a comment on an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, number int, body string) (*Comment, error) {
	var comment Comment
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, c.repoPath("/issues/%d/comments", number), payload, &comment); err != nil {
		return nil, fmt.Errorf("comment on #%d: %w", number, err)
	}
	return &comment, nil
}

// GetMilestone fetches one milestone by number.
func (c *Client) GetMilestone(ctx context.Context, number int) (*Milestone, error) {
	var m Milestone
	if err := c.do(ctx, http.MethodGet, c.repoPath("/milestones/%d", number), nil, &m); err != nil {
		return nil, fmt.Errorf("get milestone %d: %w", number, err)
	}
	return &m, nil
}

// ListMilestones lists milestones filtered by state (open, closed, all).
func (c *Client) ListMilestones(ctx context.Context, state string) ([]*Milestone, error) {
	if state == "" {
		state = "open"
	}
	var milestones []*Milestone
	endpoint := c.repoPath("/milestones?state=%s&per_page=100", url.QueryEscape(state))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &milestones); err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return milestones, nil
}

// CreateLabel creates a repository label. A 422 means it already exists.
func (c *Client) CreateLabel(ctx context.Context, label Label) error {
	if err := c.do(ctx, http.MethodPost, c.repoPath("/labels"), label, nil); err != nil {
		return fmt.Errorf("create label %s: %w", label.Name, err)
	}
	return nil
}

// DeleteLabel deletes a repository label. A 404 means it was absent.
func (c *Client) DeleteLabel(ctx context.Context, name string) error {
	endpoint := c.repoPath("/labels/%s", url.PathEscape(name))
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete label %s: %w", name, err)
	}
	return nil
}

// PullListOptions filters ListPulls.
type PullListOptions struct {
	State   string // open, closed, all
	Base    string
	Head    string // owner:branch
	PerPage int
}

// ListPulls lists pull requests.
func (c *Client) ListPulls(ctx context.Context, opts PullListOptions) ([]*PullRequest, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Base != "" {
		q.Set("base", opts.Base)
	}
	if opts.Head != "" {
		q.Set("head", opts.Head)
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	q.Set("per_page", strconv.Itoa(perPage))

	var pulls []*PullRequest
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls?%s", q.Encode()), nil, &pulls); err != nil {
		return nil, fmt.Errorf("list pulls: %w", err)
	}
	return pulls, nil
}

// GetPull fetches one pull request by number.
func (c *Client) GetPull(ctx context.Context, number int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d", number), nil, &pr); err != nil {
		return nil, fmt.Errorf("get PR #%d: %w", number, err)
	}
	return &pr, nil
}

// NewPull describes a pull request to open.
type NewPull struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// CreatePull opens a pull request.
func (c *Client) CreatePull(ctx context.Context, pull NewPull) (*PullRequest, error) {
	var pr PullRequest
	if err := c.do(ctx, http.MethodPost, c.repoPath("/pulls"), pull, &pr); err != nil {
		return nil, fmt.Errorf("create PR %s: %w", pull.Head, err)
	}
	return &pr, nil
}

// PullUpdate patches a pull request. Nil fields are left unchanged.
type PullUpdate struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
	State *string `json:"state,omitempty"` // open or closed
}

// UpdatePull patches a pull request.
func (c *Client) UpdatePull(ctx context.Context, number int, update PullUpdate) (*PullRequest, error) {
	var pr PullRequest
	if err := c.do(ctx, http.MethodPatch, c.repoPath("/pulls/%d", number), update, &pr); err != nil {
		return nil, fmt.Errorf("update PR #%d: %w", number, err)
	}
	return &pr, nil
}

// MergePull squash-merges a pull request.
func (c *Client) MergePull(ctx context.Context, number int, commitTitle string) (*MergeResult, error) {
	payload := map[string]string{"merge_method": "squash"}
	if commitTitle != "" {
		payload["commit_title"] = commitTitle
	}
	var result MergeResult
	if err := c.do(ctx, http.MethodPut, c.repoPath("/pulls/%d/merge", number), payload, &result); err != nil {
		return nil, fmt.Errorf("merge PR #%d: %w", number, err)
	}
	return &result, nil
}

// UpdatePullBranch updates the PR head with the base branch. A 422 means the
// update cannot be performed cleanly (merge conflict).
func (c *Client) UpdatePullBranch(ctx context.Context, number int) error {
	endpoint := c.repoPath("/pulls/%d/update-branch", number)
	if err := c.do(ctx, http.MethodPut, endpoint, struct{}{}, nil); err != nil {
		return fmt.Errorf("update branch of PR #%d: %w", number, err)
	}
	return nil
}

// ListPullFiles lists the changed files of a pull request.
func (c *Client) ListPullFiles(ctx context.Context, number int) ([]*PullRequestFile, error) {
	var files []*PullRequestFile
	endpoint := c.repoPath("/pulls/%d/files?per_page=100", number)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &files); err != nil {
		return nil, fmt.Errorf("list files of PR #%d: %w", number, err)
	}
	return files, nil
}

// GetRef resolves a git reference such as "heads/main".
func (c *Client) GetRef(ctx context.Context, ref string) (*Ref, error) {
	var resolved Ref
	if err := c.do(ctx, http.MethodGet, c.repoPath("/git/ref/%s", ref), nil, &resolved); err != nil {
		return nil, fmt.Errorf("get ref %s: %w", ref, err)
	}
	return &resolved, nil
}

// CreateRef creates a git reference. ref must be fully qualified, e.g.
// "refs/heads/feature".
func (c *Client) CreateRef(ctx context.Context, ref, sha string) (*Ref, error) {
	payload := map[string]string{"ref": ref, "sha": sha}
	var created Ref
	if err := c.do(ctx, http.MethodPost, c.repoPath("/git/refs"), payload, &created); err != nil {
		return nil, fmt.Errorf("create ref %s: %w", ref, err)
	}
	return &created, nil
}

// FileWrite describes a file to create or update through the contents API.
type FileWrite struct {
	Message string
	Content []byte
	Branch  string
	SHA     string // required when updating an existing file
}

// CreateOrUpdateFile writes one file as a commit on the given branch. A 422
// with an empty SHA means the file already exists.
func (c *Client) CreateOrUpdateFile(ctx context.Context, path string, write FileWrite) error {
	payload := map[string]string{
		"message": write.Message,
		"content": base64.StdEncoding.EncodeToString(write.Content),
	}
	if write.Branch != "" {
		payload["branch"] = write.Branch
	}
	if write.SHA != "" {
		payload["sha"] = write.SHA
	}
	endpoint := c.repoPath("/contents/%s", escapePath(path))
	if err := c.do(ctx, http.MethodPut, endpoint, payload, nil); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// GetContent fetches one file through the contents API.
func (c *Client) GetContent(ctx context.Context, path, ref string) (*RepoContent, error) {
	endpoint := c.repoPath("/contents/%s", escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	var content RepoContent
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &content); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return &content, nil
}

// CompareCommits compares base...head.
func (c *Client) CompareCommits(ctx context.Context, base, head string) (*Comparison, error) {
	endpoint := c.repoPath("/compare/%s...%s", url.PathEscape(base), url.PathEscape(head))
	var cmp Comparison
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &cmp); err != nil {
		return nil, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}
	return &cmp, nil
}

// ListCheckRuns lists check runs for a commit ref.
func (c *Client) ListCheckRuns(ctx context.Context, ref string) ([]*CheckRun, error) {
	var result struct {
		CheckRuns []*CheckRun `json:"check_runs"`
	}
	endpoint := c.repoPath("/commits/%s/check-runs?per_page=100", url.PathEscape(ref))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, fmt.Errorf("list check runs for %s: %w", ref, err)
	}
	return result.CheckRuns, nil
}

// escapePath escapes each segment of a repo path, preserving slashes.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
