package fleet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGoalFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goal.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGoalParsesFrontmatter(t *testing.T) {
	path := writeGoalFile(t, `---
title: Harden the sync path
milestone: 4
priority: high
tags:
  - reliability
  - sync
---

Make incremental sync resilient to out-of-order pages.
`)
	goal, err := LoadGoal(path)
	require.NoError(t, err)
	assert.Equal(t, "Harden the sync path", goal.Title)
	assert.Equal(t, 4, goal.Milestone)
	assert.Equal(t, "high", goal.Priority)
	assert.Equal(t, []string{"reliability", "sync"}, goal.Tags)
	assert.Equal(t, "Make incremental sync resilient to out-of-order pages.", goal.Body)
	assert.Equal(t, path, goal.Path)
}

func TestLoadGoalCRLF(t *testing.T) {
	path := writeGoalFile(t, "---\r\ntitle: Windows goal\r\n---\r\nbody line\r\n")
	goal, err := LoadGoal(path)
	require.NoError(t, err)
	assert.Equal(t, "Windows goal", goal.Title)
	assert.Equal(t, "body line", goal.Body)
}

func TestLoadGoalWithoutTitleFails(t *testing.T) {
	path := writeGoalFile(t, `---
milestone: 2
---
body only
`)
	_, err := LoadGoal(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no title")
}

func TestLoadGoalWithoutFrontmatterFails(t *testing.T) {
	path := writeGoalFile(t, "just a body, no frontmatter\n")
	_, err := LoadGoal(path)
	require.Error(t, err)
}

func TestLoadGoalMissingFile(t *testing.T) {
	_, err := LoadGoal(filepath.Join(t.TempDir(), "absent.md"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSplitFrontmatter(t *testing.T) {
	front, body := splitFrontmatter("---\ntitle: x\n---\nrest")
	assert.Equal(t, "title: x", front)
	assert.Equal(t, "rest", body)

	// An unterminated frontmatter block is treated as body.
	front, body = splitFrontmatter("---\ntitle: x\nno terminator")
	assert.Empty(t, front)
	assert.Equal(t, "---\ntitle: x\nno terminator", body)
}
