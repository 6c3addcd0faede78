package fleet

import (
	"context"
	"sort"
	"strconv"

	"github.com/julesfleet/julesfleet/internal/forge"
)

// IssueFiles maps an issue to the files it intends to change.
type IssueFiles struct {
	Issue       int
	TargetFiles []string
}

// Overlap is one file claimed by two or more issues.
type Overlap struct {
	File   string
	Issues []int
}

// Cluster is a transitively connected group of overlapping issues.
type Cluster struct {
	Issues      []int
	SharedFiles []string
}

// OverlapReport is the outcome of overlap analysis.
type OverlapReport struct {
	Clean    bool
	Overlaps []Overlap
	Clusters []Cluster
}

// OverlapInput scopes overlap analysis to one milestone.
type OverlapInput struct {
	Milestone int
}

// Overlap resolves every dispatched issue in the milestone to the files its
// pull request touches, then reports files claimed by more than one issue.
// Issues without a dispatch marker or without a pull request contribute
// nothing.
func (o *Orchestrator) Overlap(ctx context.Context, in OverlapInput) Result[*OverlapReport] {
	if in.Milestone <= 0 {
		return Failf[*OverlapReport](CodeUnknown, false, "overlap analysis needs a milestone")
	}
	issues, err := o.forge.ListIssues(ctx, forge.IssueListOptions{
		Milestone: strconv.Itoa(in.Milestone),
		Labels:    []string{LabelFleet},
		State:     "all",
	})
	if err != nil {
		return Fail[*OverlapReport](&HandlerError{Code: CodeGitHubAPIError, Message: err.Error(), Recoverable: true})
	}

	var items []IssueFiles
	for _, issue := range issues {
		trace, herr := o.traceIssue(ctx, issue)
		if herr != nil {
			return Fail[*OverlapReport](herr)
		}
		if trace == nil || len(trace.ChangedFiles) == 0 {
			continue
		}
		items = append(items, IssueFiles{Issue: issue.Number, TargetFiles: trace.ChangedFiles})
	}
	return OK(AnalyzeOverlap(items))
}

// AnalyzeOverlap detects files claimed by multiple issues and clusters the
// claimants transitively: issues sharing any file, directly or through a
// chain of shared files, land in one cluster. All output is sorted for
// deterministic reports.
func AnalyzeOverlap(items []IssueFiles) *OverlapReport {
	owners := make(map[string][]int)
	for _, item := range items {
		seen := make(map[string]bool)
		for _, file := range item.TargetFiles {
			if seen[file] {
				continue
			}
			seen[file] = true
			owners[file] = append(owners[file], item.Issue)
		}
	}

	uf := newUnionFind()
	var overlaps []Overlap
	sharedByRoot := make(map[int]map[string]bool)
	for file, issues := range owners {
		if len(issues) < 2 {
			continue
		}
		sorted := append([]int(nil), issues...)
		sort.Ints(sorted)
		overlaps = append(overlaps, Overlap{File: file, Issues: sorted})
		for _, issue := range sorted[1:] {
			uf.union(sorted[0], issue)
		}
	}
	sort.Slice(overlaps, func(i, j int) bool { return overlaps[i].File < overlaps[j].File })

	for _, overlap := range overlaps {
		root := uf.find(overlap.Issues[0])
		if sharedByRoot[root] == nil {
			sharedByRoot[root] = make(map[string]bool)
		}
		sharedByRoot[root][overlap.File] = true
	}

	members := make(map[int][]int)
	for _, overlap := range overlaps {
		for _, issue := range overlap.Issues {
			root := uf.find(issue)
			members[root] = append(members[root], issue)
		}
	}

	var clusters []Cluster
	for root, issues := range members {
		issueSet := make(map[int]bool)
		var unique []int
		for _, issue := range issues {
			if !issueSet[issue] {
				issueSet[issue] = true
				unique = append(unique, issue)
			}
		}
		sort.Ints(unique)

		var files []string
		for file := range sharedByRoot[root] {
			files = append(files, file)
		}
		sort.Strings(files)
		clusters = append(clusters, Cluster{Issues: unique, SharedFiles: files})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Issues[0] < clusters[j].Issues[0] })

	return &OverlapReport{
		Clean:    len(overlaps) == 0,
		Overlaps: overlaps,
		Clusters: clusters,
	}
}
