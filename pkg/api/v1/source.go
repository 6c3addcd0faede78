package v1

// SourceResource is a repository source known to the Agent API.
type SourceResource struct {
	Name string `json:"name"` // sources/github/{owner}/{repo}
	ID   string `json:"id,omitempty"`
}
