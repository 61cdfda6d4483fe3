package comparison

import (
	"encoding/json"
	"strings"

	"github.com/opencircle/insights-core/internal/storage"
)

// verdictsOverall decodes only the "overall.reasoning" leaf of a
// Comparison's persisted verdicts blob — the rest of the shape is
// internal/judge's concern.
type verdictsOverall struct {
	Overall struct {
		Reasoning string `json:"reasoning"`
	} `json:"overall"`
}

// ExecutiveSummary extracts the first "## Summary" markdown block (up to
// the next "## " heading, wherever it appears) from a
// comparison's overall judge reasoning, mirroring the teacher's
// controller/summarize.go dedicated executive-summary turn (spec.md
// §4.6 already allows the overall call's reasoning to embed a markdown
// summary; this just gives callers a structured way to pull it back
// out instead of re-parsing markdown themselves). Returns ok=false if
// the reasoning has no such block.
func ExecutiveSummary(c storage.ComparisonRecord) (string, bool) {
	var v verdictsOverall
	if err := json.Unmarshal(c.Verdicts, &v); err != nil {
		return "", false
	}
	return extractSummaryBlock(v.Overall.Reasoning)
}

func extractSummaryBlock(reasoning string) (string, bool) {
	const header = "## Summary"
	idx := strings.Index(reasoning, header)
	if idx < 0 {
		return "", false
	}
	rest := reasoning[idx+len(header):]
	if nextIdx := strings.Index(rest, "\n## "); nextIdx >= 0 {
		rest = rest[:nextIdx]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}
