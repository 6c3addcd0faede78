package fleet

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// InitInput configures repository bootstrap.
type InitInput struct {
	BaseBranch string
}

// InitReport describes what Init created.
type InitReport struct {
	Branch        string
	FilesCreated  []string
	FilesSkipped  []string
	PullRequest   *forge.PullRequest
	LabelsCreated []string
}

// Init bootstraps a repository for orchestration: a fleet/init-<ts> branch
// carrying the template files, a pull request against base, and the managed
// label set. A repository that already has every template is reported as
// ALREADY_INITIALIZED.
func (o *Orchestrator) Init(ctx context.Context, in InitInput) Result[*InitReport] {
	base := o.resolveBase(in.BaseBranch)

	baseRef, err := o.forge.GetRef(ctx, "heads/"+base)
	if err != nil {
		return Failf[*InitReport](CodeBranchCreateFailed, false, "resolve base branch %s: %v", base, err)
	}
	branch := fmt.Sprintf("fleet/init-%d", o.now().Unix())
	if _, err := o.forge.CreateRef(ctx, "refs/heads/"+branch, baseRef.Object.SHA); err != nil {
		return Failf[*InitReport](CodeBranchCreateFailed, false, "create branch %s: %v", branch, err)
	}

	report := &InitReport{Branch: branch}
	for _, file := range initTemplates() {
		err := o.forge.CreateOrUpdateFile(ctx, file.path, forge.FileWrite{
			Message: "Add " + file.path,
			Content: []byte(file.content),
			Branch:  branch,
		})
		switch {
		case err == nil:
			report.FilesCreated = append(report.FilesCreated, file.path)
		case forge.IsStatus(err, http.StatusUnprocessableEntity):
			report.FilesSkipped = append(report.FilesSkipped, file.path)
		default:
			return Failf[*InitReport](CodeFileCommitFailed, false, "commit %s: %v", file.path, err)
		}
	}

	if len(report.FilesCreated) == 0 {
		return Fail[*InitReport](&HandlerError{
			Code:        CodeAlreadyInitialized,
			Message:     "all fleet templates already exist",
			Recoverable: true,
			Suggestion:  "Use configure to update settings",
		})
	}

	pr, err := o.forge.CreatePull(ctx, forge.NewPull{
		Title: "Initialize fleet orchestration",
		Body:  initPRBody(report.FilesCreated),
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		return Failf[*InitReport](CodePRCreateFailed, false, "create init PR: %v", err)
	}
	report.PullRequest = pr

	labels := o.Configure(ctx, ConfigureInput{Resource: "labels", Action: "create"})
	if labels.IsOK() {
		report.LabelsCreated = labels.Data().Created
	} else {
		o.logger.Warn("label setup failed during init", zap.String("error", labels.Err().Message))
	}

	o.logger.Info("repository initialised",
		zap.String("branch", branch),
		zap.Int("pr", pr.Number),
		zap.Int("files", len(report.FilesCreated)))
	return OK(report)
}

type templateFile struct {
	path    string
	content string
}

func initTemplates() []templateFile {
	return []templateFile{
		{path: ".fleet/README.md", content: fleetReadmeTemplate},
		{path: ".fleet/fleet.yml", content: fleetConfigTemplate},
		{path: ".fleet/goals/example-goal.md", content: exampleGoalTemplate},
	}
}

func initPRBody(created []string) string {
	body := "Bootstrap fleet orchestration for this repository.\n\nFiles added:\n"
	for _, path := range created {
		body += "- `" + path + "`\n"
	}
	return body
}
