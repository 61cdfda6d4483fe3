package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// AnalysisRecord is the durable row for a completed DTA pipeline run
// (spec §3 "Analysis"), grounded on ent/schema/llminteraction.go's
// input/output/metadata split, generalized to three named stages.
type AnalysisRecord struct {
	ID               string
	Tenant           string
	Creator          string
	Project          string
	TranscriptTitle  string
	TranscriptInput  string
	PIIRedacted      bool
	FactsOutput      string
	InsightsOutput   string
	SummaryOutput    string
	StageParams      map[string]any
	SystemPrompts    map[string]string
	Models           map[string]string
	TotalTokens      int
	TotalCost        float64
	TotalDurationMS  int64
	ParentTraceID    string
}

// AnalysisStore persists Analyses for the DTA pipeline engine (C5).
type AnalysisStore struct {
	pool *Pool
}

// NewAnalysisStore builds an AnalysisStore over pool.
func NewAnalysisStore(pool *Pool) *AnalysisStore {
	return &AnalysisStore{pool: pool}
}

// Insert persists a completed analysis row.
func (s *AnalysisStore) Insert(ctx context.Context, a AnalysisRecord) error {
	stageParamsJSON, err := json.Marshal(a.StageParams)
	if err != nil {
		return fmt.Errorf("storage: encoding stage params: %w", err)
	}
	systemPromptsJSON, err := json.Marshal(a.SystemPrompts)
	if err != nil {
		return fmt.Errorf("storage: encoding system prompts: %w", err)
	}
	modelsJSON, err := json.Marshal(a.Models)
	if err != nil {
		return fmt.Errorf("storage: encoding models: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analyses (id, tenant, creator, project, transcript_title, transcript_input, pii_redacted,
			facts_output, insights_output, summary_output, stage_params, system_prompts, models,
			total_tokens, total_cost, total_duration_ms, parent_trace_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		a.ID, a.Tenant, a.Creator, a.Project, nullableString(a.TranscriptTitle), a.TranscriptInput, a.PIIRedacted,
		a.FactsOutput, a.InsightsOutput, a.SummaryOutput, stageParamsJSON, systemPromptsJSON, modelsJSON,
		a.TotalTokens, a.TotalCost, a.TotalDurationMS, nullableString(a.ParentTraceID))
	if err != nil {
		return fmt.Errorf("storage: inserting analysis: %w", err)
	}
	return nil
}

// ByID fetches a single analysis, used by the judge engine to load both
// sides of a comparison.
func (s *AnalysisStore) ByID(ctx context.Context, id string) (AnalysisRecord, error) {
	var a AnalysisRecord
	var title *string
	var parentTraceID *string
	var stageParamsJSON, systemPromptsJSON, modelsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant, creator, project, transcript_title, transcript_input, pii_redacted,
		       facts_output, insights_output, summary_output, stage_params, system_prompts, models,
		       total_tokens, total_cost, total_duration_ms, parent_trace_id
		FROM analyses WHERE id = $1`, id).Scan(
		&a.ID, &a.Tenant, &a.Creator, &a.Project, &title, &a.TranscriptInput, &a.PIIRedacted,
		&a.FactsOutput, &a.InsightsOutput, &a.SummaryOutput, &stageParamsJSON, &systemPromptsJSON, &modelsJSON,
		&a.TotalTokens, &a.TotalCost, &a.TotalDurationMS, &parentTraceID)
	if err != nil {
		return AnalysisRecord{}, fmt.Errorf("storage: fetching analysis %s: %w", id, err)
	}
	if title != nil {
		a.TranscriptTitle = *title
	}
	if parentTraceID != nil {
		a.ParentTraceID = *parentTraceID
	}
	if err := json.Unmarshal(stageParamsJSON, &a.StageParams); err != nil {
		return AnalysisRecord{}, fmt.Errorf("storage: decoding stage params for %s: %w", id, err)
	}
	if err := json.Unmarshal(systemPromptsJSON, &a.SystemPrompts); err != nil {
		return AnalysisRecord{}, fmt.Errorf("storage: decoding system prompts for %s: %w", id, err)
	}
	if err := json.Unmarshal(modelsJSON, &a.Models); err != nil {
		return AnalysisRecord{}, fmt.Errorf("storage: decoding models for %s: %w", id, err)
	}
	return a, nil
}

// ListByTenant returns every analysis owned by tenant, newest first, for
// the list_analyses read operation.
func (s *AnalysisStore) ListByTenant(ctx context.Context, tenant string) ([]AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant, creator, project, transcript_title, total_tokens, total_cost, total_duration_ms
		FROM analyses WHERE tenant = $1 ORDER BY created_at DESC`, tenant)
	if err != nil {
		return nil, fmt.Errorf("storage: listing analyses for tenant %s: %w", tenant, err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var a AnalysisRecord
		var title *string
		if err := rows.Scan(&a.ID, &a.Tenant, &a.Creator, &a.Project, &title,
			&a.TotalTokens, &a.TotalCost, &a.TotalDurationMS); err != nil {
			return nil, fmt.Errorf("storage: scanning analysis row: %w", err)
		}
		if title != nil {
			a.TranscriptTitle = *title
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Rename updates an analysis's title, the one field spec §3 allows to
// mutate after creation.
func (s *AnalysisStore) Rename(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analyses SET transcript_title = $2, updated_at = now() WHERE id = $1`,
		id, nullableString(title))
	if err != nil {
		return fmt.Errorf("storage: renaming analysis %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: analysis %s not found", id)
	}
	return nil
}

// Delete removes an analysis. Comparisons referencing it are removed by
// the schema's ON DELETE CASCADE (spec §4.7: "deletion of an Analysis
// cascades to Comparisons referencing it").
func (s *AnalysisStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deleting analysis %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: analysis %s not found", id)
	}
	return nil
}
