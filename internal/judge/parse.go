package judge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Verdict is the judge's parsed response for one comparison call (spec
// §4.6 response schema): a winner among the blind labels, per-criterion
// per-side scores, and free-text reasoning.
type Verdict struct {
	Winner    string                         `json:"winner"`
	Scores    map[string]map[string]float64 `json:"scores"`
	Reasoning string                         `json:"reasoning"`
}

type rawVerdict struct {
	Winner    string                     `json:"winner"`
	Scores    map[string]map[string]float64 `json:"scores"`
	Reasoning string                     `json:"reasoning"`
}

// parseVerdict runs raw through the deterministic auto-repair chain from
// spec §4.6 steps 1-4 (fence stripping, strict parse, truncation repair,
// brace-balance repair), then validates the schema and clamps
// out-of-range scores. It does not perform step 5 (the whole-call
// retry) — that requires another provider call and is the caller's
// responsibility.
func parseVerdict(raw string, criteria []string) (Verdict, []string, error) {
	rv, truncated, err := repairAndParse(raw)
	if err != nil {
		return Verdict{}, nil, err
	}
	verdict, clamped, err := validateAndClamp(rv, criteria)
	if err != nil {
		return Verdict{}, nil, err
	}
	if truncated {
		verdict.Reasoning = strings.TrimRight(verdict.Reasoning, " ") + " (response truncated)"
	}
	return verdict, clamped, nil
}

// repairAndParse implements steps 1-4. The returned bool reports whether
// the truncation-repair path (step 3) was the one that succeeded, since
// that's the only path spec requires a reasoning marker for.
func repairAndParse(raw string) (rawVerdict, bool, error) {
	body := stripCodeFences(raw)

	if v, err := strictParse(body); err == nil {
		return v, false, nil
	}

	// Step 3: a response cut off inside a string value is closed in place
	// (closing quote, then any open braces) and retried; failing that, it
	// is truncated to the last complete `"<value>",` boundary and retried.
	if v, err := strictParse(closeUnbalancedBraces(body + `"`)); err == nil {
		return v, true, nil
	}
	if truncated, ok := truncateAtLastStringBoundary(body); ok {
		candidate := closeUnbalancedBraces(truncated)
		if v, err := strictParse(candidate); err == nil {
			return v, true, nil
		}
	}

	// Step 4: close unbalanced braces on the original (untruncated) body.
	if closed := closeUnbalancedBraces(body); closed != body {
		if v, err := strictParse(closed); err == nil {
			return v, false, nil
		}
	}

	return rawVerdict{}, false, fmt.Errorf("judge: response is not valid JSON after auto-repair")
}

func strictParse(body string) (rawVerdict, error) {
	var v rawVerdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return rawVerdict{}, err
	}
	return v, nil
}

// stripCodeFences removes a single enclosing ``` or ```json fence, if
// present, and trims surrounding whitespace.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncateAtLastStringBoundary finds the last `",` sequence — the end of
// a complete key/value pair — and cuts everything after it, dropping a
// partially-written trailing field. Returns ok=false if no such boundary
// exists (nothing safe to salvage).
func truncateAtLastStringBoundary(s string) (string, bool) {
	idx := strings.LastIndex(s, "\",")
	if idx < 0 {
		return s, false
	}
	return s[:idx+1], true
}

// closeUnbalancedBraces appends `}` characters equal to the brace
// deficit, tracking string literals so braces inside quoted text are
// never counted.
func closeUnbalancedBraces(s string) string {
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	if depth <= 0 {
		return s
	}
	return s + strings.Repeat("}", depth)
}

// validateAndClamp checks the parsed verdict against the required
// schema (winner in {A,B,tie}, a score for every criterion on both
// sides) and clamps any score outside [0,1], returning the sorted list
// of "<side>.<criterion>" keys that were clamped.
func validateAndClamp(v rawVerdict, criteria []string) (Verdict, []string, error) {
	if v.Winner != "A" && v.Winner != "B" && v.Winner != "tie" {
		return Verdict{}, nil, fmt.Errorf("judge: invalid winner %q", v.Winner)
	}
	if v.Scores == nil || v.Scores["A"] == nil || v.Scores["B"] == nil {
		return Verdict{}, nil, fmt.Errorf("judge: response is missing scores for one or both sides")
	}

	var clamped []string
	for _, side := range []string{"A", "B"} {
		for _, crit := range criteria {
			val, ok := v.Scores[side][crit]
			if !ok {
				return Verdict{}, nil, fmt.Errorf("judge: response is missing a %s score for side %s", crit, side)
			}
			switch {
			case val < 0:
				v.Scores[side][crit] = 0
				clamped = append(clamped, side+"."+crit)
			case val > 1:
				v.Scores[side][crit] = 1
				clamped = append(clamped, side+"."+crit)
			}
		}
	}
	sort.Strings(clamped)

	return Verdict{Winner: v.Winner, Scores: v.Scores, Reasoning: v.Reasoning}, clamped, nil
}
