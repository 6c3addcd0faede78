package fleet

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Goal is one goal markdown file: YAML frontmatter plus a body.
type Goal struct {
	Path      string   `yaml:"-"`
	Title     string   `yaml:"title"`
	Milestone int      `yaml:"milestone"`
	Priority  string   `yaml:"priority"`
	Tags      []string `yaml:"tags"`
	Body      string   `yaml:"-"`
}

// LoadGoal parses one goal file. Frontmatter is delimited by "---" lines;
// a file without frontmatter is all body.
func LoadGoal(path string) (*Goal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	front, body := splitFrontmatter(string(raw))
	goal := &Goal{Path: path}
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), goal); err != nil {
			return nil, fmt.Errorf("parse frontmatter of %s: %w", path, err)
		}
	}
	goal.Body = strings.TrimSpace(body)
	if goal.Title == "" {
		return nil, fmt.Errorf("goal %s has no title", path)
	}
	return goal, nil
}

func splitFrontmatter(doc string) (front, body string) {
	normalized := strings.ReplaceAll(doc, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", normalized
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", normalized
	}
	front = rest[:end]
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return front, body
}
