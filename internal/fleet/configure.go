package fleet

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// ConfigureInput selects the resource and action to apply.
type ConfigureInput struct {
	Resource string // only "labels" is supported
	Action   string // create or delete
	Labels   []forge.Label
}

// ConfigureReport lists the per-label outcomes.
type ConfigureReport struct {
	Created []string
	Deleted []string
	Skipped []string
}

// Configure manages the fleet label set. Creating a label that exists and
// deleting one that is absent both count as skipped.
func (o *Orchestrator) Configure(ctx context.Context, in ConfigureInput) Result[*ConfigureReport] {
	if in.Resource != "" && in.Resource != "labels" {
		return Failf[*ConfigureReport](CodeUnknown, false, "unsupported resource %q", in.Resource)
	}
	labels := in.Labels
	if len(labels) == 0 {
		labels = managedLabels()
	}

	report := &ConfigureReport{}
	switch in.Action {
	case "create", "":
		for _, label := range labels {
			err := o.forge.CreateLabel(ctx, label)
			switch {
			case err == nil:
				report.Created = append(report.Created, label.Name)
			case forge.IsStatus(err, http.StatusUnprocessableEntity):
				report.Skipped = append(report.Skipped, label.Name)
			default:
				return Fail[*ConfigureReport](&HandlerError{
					Code:        CodeGitHubAPIError,
					Message:     err.Error(),
					Recoverable: true,
				})
			}
		}
	case "delete":
		for _, label := range labels {
			err := o.forge.DeleteLabel(ctx, label.Name)
			switch {
			case err == nil:
				report.Deleted = append(report.Deleted, label.Name)
			case forge.IsStatus(err, http.StatusNotFound):
				report.Skipped = append(report.Skipped, label.Name)
			default:
				return Fail[*ConfigureReport](&HandlerError{
					Code:        CodeGitHubAPIError,
					Message:     err.Error(),
					Recoverable: true,
				})
			}
		}
	default:
		return Failf[*ConfigureReport](CodeUnknown, false, "unsupported action %q", in.Action)
	}

	o.logger.Info("labels configured",
		zap.Int("created", len(report.Created)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("skipped", len(report.Skipped)))
	return OK(report)
}
