package fleet

import (
	"context"

	"github.com/julesfleet/julesfleet/internal/jules"
)

// DispatchRequest describes one worker or analyzer session to launch.
type DispatchRequest struct {
	Prompt     string
	Owner      string
	Repo       string
	BaseBranch string
	Title      string
}

// SessionDispatcher abstracts session creation so handlers can be tested
// without the agent SDK.
type SessionDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (sessionID string, err error)
}

type julesDispatcher struct {
	client *jules.Client
}

// NewJulesDispatcher dispatches through the SDK: approval off, auto-PR on.
func NewJulesDispatcher(client *jules.Client) SessionDispatcher {
	return &julesDispatcher{client: client}
}

func (d *julesDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	session, err := d.client.Run(ctx, jules.SessionConfig{
		Prompt: req.Prompt,
		Title:  req.Title,
		Source: jules.GitHubSource{
			Owner:      req.Owner,
			Repo:       req.Repo,
			BaseBranch: req.BaseBranch,
		},
	})
	if err != nil {
		return "", err
	}
	return session.ID(), nil
}
