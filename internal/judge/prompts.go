package judge

import (
	"fmt"
	"strings"
)

const judgeSystemPrompt = `You are an impartial judge comparing two AI-generated analyses of the same customer-call transcript. The two candidates are labeled A and B; you do not know which was produced first or by which configuration. Respond with a single JSON object and nothing else — no prose before or after, no markdown code fence. The object must have exactly this shape:
{"winner": "A"|"B"|"tie", "scores": {"A": {<criterion>: <number 0-1>, ...}, "B": {<criterion>: <number 0-1>, ...}}, "reasoning": "<string>"}
Every criterion listed below must appear as a key under both "A" and "B".`

func criteriaList(criteria []string) string {
	return strings.Join(criteria, ", ")
}

func stagePrompt(stageLabel, contentA, contentB string, criteria []string) string {
	return fmt.Sprintf(
		"Evaluate the %s output of two analyses on these criteria: %s.\n\nCandidate A:\n%s\n\nCandidate B:\n%s",
		stageLabel, criteriaList(criteria), contentA, contentB)
}

func overallPrompt(factsA, insightsA, summaryA, factsB, insightsB, summaryB string,
	stage1, stage2, stage3 Verdict, criteria []string) string {
	return fmt.Sprintf(
		`Evaluate the full analyses (facts, insights, and summary stages) of two candidates on these criteria: %s.

Candidate A — facts:
%s
Candidate A — insights:
%s
Candidate A — summary:
%s

Candidate B — facts:
%s
Candidate B — insights:
%s
Candidate B — summary:
%s

Prior stage verdicts, for context:
Stage 1 (facts): winner=%s, reasoning=%s
Stage 2 (insights): winner=%s, reasoning=%s
Stage 3 (summary): winner=%s, reasoning=%s

Produce an overall verdict. "reasoning" may include a brief markdown executive summary, but the JSON shape must not change.`,
		criteriaList(criteria), factsA, insightsA, summaryA, factsB, insightsB, summaryB,
		stage1.Winner, stage1.Reasoning, stage2.Winner, stage2.Reasoning, stage3.Winner, stage3.Reasoning)
}

const repairRetryPrefix = "Your previous response could not be parsed as JSON. Respond with valid JSON only: no commentary, no markdown code fences, no text before or after the object.\n\n"
