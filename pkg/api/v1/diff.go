package v1

import "strings"

// ChangeType classifies a per-file diff.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// FileDiff summarises one file of a change set.
type FileDiff struct {
	Path       string     `json:"path"`
	ChangeType ChangeType `json:"changeType"`
	Additions  int        `json:"additions"`
	Deletions  int        `json:"deletions"`
}

// Files parses the unidiff patch into per-file diffs. The parse runs once;
// subsequent calls return the cached result.
func (c *ChangeSetArtifact) Files() []FileDiff {
	if c.files != nil {
		return c.files
	}
	c.files = parseUnidiff(c.Patch)
	return c.files
}

func parseUnidiff(patch string) []FileDiff {
	files := []FileDiff{}
	var cur *FileDiff
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if cur != nil {
				files = append(files, *cur)
			}
			cur = &FileDiff{Path: diffPath(line), ChangeType: ChangeModified}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "new file mode"):
			cur.ChangeType = ChangeCreated
		case strings.HasPrefix(line, "deleted file mode"):
			cur.ChangeType = ChangeDeleted
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			cur.Additions++
		case strings.HasPrefix(line, "-"):
			cur.Deletions++
		}
	}
	if cur != nil {
		files = append(files, *cur)
	}
	return files
}

// diffPath extracts the b-side path from a "diff --git a/x b/x" header.
func diffPath(header string) string {
	fields := strings.Fields(header)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimPrefix(fields[3], "b/")
}
