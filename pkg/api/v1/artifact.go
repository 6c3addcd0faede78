package v1

import (
	"encoding/json"
)

// ArtifactType is the tagged variant discriminator for artifacts.
type ArtifactType string

const (
	ArtifactMedia      ArtifactType = "media"
	ArtifactBashOutput ArtifactType = "bashOutput"
	ArtifactChangeSet  ArtifactType = "changeSet"
)

// MediaArtifact carries an inline payload (base64) plus mime/format metadata.
type MediaArtifact struct {
	ID     string `json:"id,omitempty"`
	Data   string `json:"data"`
	Mime   string `json:"mime,omitempty"`
	Format string `json:"format,omitempty"`
}

// BashOutputArtifact captures a command execution.
type BashOutputArtifact struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode"`
}

// ChangeSetArtifact carries a unidiff patch plus commit metadata. The
// per-file breakdown is parsed lazily via Files.
type ChangeSetArtifact struct {
	Source        string `json:"source,omitempty"`
	Patch         string `json:"patch"`
	BaseCommit    string `json:"baseCommit,omitempty"`
	CommitMessage string `json:"commitMessage,omitempty"`

	files []FileDiff `json:"-"`
}

// Artifact is a tagged variant attached to an activity. Unknown tags pass
// through unchanged via Raw so re-serialisation is lossless.
type Artifact struct {
	Type       ArtifactType
	Media      *MediaArtifact
	BashOutput *BashOutputArtifact
	ChangeSet  *ChangeSetArtifact
	Raw        map[string]json.RawMessage
}

// UnmarshalJSON rehydrates a typed artifact from cached or wire JSON. Two
// legacy shapes are tolerated: flat ({type, ...fields}) and nested
// ({type, bashOutput: {...}}). Unknown tags keep the raw document.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var tag string
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &tag); err != nil {
			return err
		}
	}
	a.Type = ArtifactType(tag)

	payload := func(key string) []byte {
		if nested, ok := raw[key]; ok {
			return nested
		}
		return data // flat legacy shape: fields live next to "type"
	}

	switch a.Type {
	case ArtifactMedia:
		a.Media = &MediaArtifact{}
		return json.Unmarshal(payload("media"), a.Media)
	case ArtifactBashOutput:
		a.BashOutput = &BashOutputArtifact{}
		return json.Unmarshal(payload("bashOutput"), a.BashOutput)
	case ArtifactChangeSet:
		a.ChangeSet = &ChangeSetArtifact{}
		return json.Unmarshal(payload("changeSet"), a.ChangeSet)
	default:
		a.Raw = raw
		return nil
	}
}

// MarshalJSON writes the canonical nested shape.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ArtifactMedia:
		return json.Marshal(struct {
			Type  ArtifactType   `json:"type"`
			Media *MediaArtifact `json:"media"`
		}{a.Type, a.Media})
	case ArtifactBashOutput:
		return json.Marshal(struct {
			Type       ArtifactType        `json:"type"`
			BashOutput *BashOutputArtifact `json:"bashOutput"`
		}{a.Type, a.BashOutput})
	case ArtifactChangeSet:
		return json.Marshal(struct {
			Type      ArtifactType       `json:"type"`
			ChangeSet *ChangeSetArtifact `json:"changeSet"`
		}{a.Type, a.ChangeSet})
	default:
		if a.Raw != nil {
			return json.Marshal(a.Raw)
		}
		return json.Marshal(map[string]ArtifactType{"type": a.Type})
	}
}
