// Package fleet implements milestone-scoped orchestration on top of the
// agent SDK and the forge client: repository bootstrap, goal analysis, issue
// dispatch with idempotency markers, CI-gated sequential merging, correlation
// tracing, file-overlap clustering, and signal issues.
package fleet

import "fmt"

// ErrorCode classifies handler failures.
type ErrorCode string

const (
	CodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	CodeBranchCreateFailed ErrorCode = "BRANCH_CREATE_FAILED"
	CodeFileCommitFailed   ErrorCode = "FILE_COMMIT_FAILED"
	CodePRCreateFailed     ErrorCode = "PR_CREATE_FAILED"
	CodeMergeFailed        ErrorCode = "MERGE_FAILED"
	CodeRedispatchFailed   ErrorCode = "REDISPATCH_FAILED"
	CodeGoalNotFound       ErrorCode = "GOAL_NOT_FOUND"
	CodeMilestoneNotFound  ErrorCode = "MILESTONE_NOT_FOUND"
	CodeIssueNotFound      ErrorCode = "ISSUE_NOT_FOUND"
	CodeScopeNotFound      ErrorCode = "SCOPE_NOT_FOUND"
	CodeGitHubAPIError     ErrorCode = "GITHUB_API_ERROR"
	CodeUnknown            ErrorCode = "UNKNOWN"
)

// HandlerError is the failure side of a Result. Suggestion, when set, is a
// remediation hint for the operator.
type HandlerError struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Suggestion  string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the tagged outcome of a fleet handler. Handlers never return Go
// errors; every outcome, fatal or partial, is carried here.
type Result[T any] struct {
	ok   bool
	data T
	err  *HandlerError
}

// OK wraps a successful outcome.
func OK[T any](data T) Result[T] {
	return Result[T]{ok: true, data: data}
}

// Fail wraps a failure.
func Fail[T any](err *HandlerError) Result[T] {
	return Result[T]{err: err}
}

// Failf builds a failure from a format string.
func Failf[T any](code ErrorCode, recoverable bool, format string, args ...any) Result[T] {
	return Fail[T](&HandlerError{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	})
}

// IsOK reports whether the result holds data.
func (r Result[T]) IsOK() bool { return r.ok }

// Data returns the success payload; the zero value on failure.
func (r Result[T]) Data() T { return r.data }

// Err returns the failure; nil on success.
func (r Result[T]) Err() *HandlerError { return r.err }
