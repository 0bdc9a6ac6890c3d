package manager

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// buildDiff computes a unified diff between before and after plus added and
// removed line counts. The diff is headed with the path relative to baseDir.
func buildDiff(path, before, after, baseDir string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, removals := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removals += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	diffText := dmp.PatchToText(patches)
	if diffText == "" {
		return "", additions, removals
	}

	rel := path
	if r, err := filepath.Rel(baseDir, path); err == nil {
		rel = r
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", rel, rel)
	sb.WriteString(diffText)
	return sb.String(), additions, removals
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(text, "\n"), "\n") + 1
}

// closestMatch finds the block of lines in content most similar to target.
// Used to build actionable not-found errors for edits.
func closestMatch(content, target string) (string, float64) {
	lines := strings.Split(content, "\n")
	targetLines := strings.Split(target, "\n")
	window := len(targetLines)
	if window > len(lines) {
		return "", 0
	}

	best := ""
	bestSim := 0.0
	for i := 0; i <= len(lines)-window; i++ {
		block := strings.Join(lines[i:i+window], "\n")
		if sim := similarity(block, target); sim > bestSim {
			bestSim = sim
			best = block
		}
	}
	return best, bestSim
}

// similarity is normalized Levenshtein similarity in [0, 1]. Very long
// inputs fall back to a length ratio to bound the O(n*m) distance cost.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	if len(a) > 10000 || len(b) > 10000 {
		maxLen, minLen := len(a), len(b)
		if minLen > maxLen {
			maxLen, minLen = minLen, maxLen
		}
		return float64(minLen) / float64(maxLen)
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}
