package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opencircle/insights-core/internal/coreerrors"
)

// ComparisonRecord is the durable row for a completed blind A/B judge
// run (spec §3 "Comparison"), grounded on ent/schema/sessionscore.go's
// pairing/verdict-blob shape.
type ComparisonRecord struct {
	ID                  string
	Tenant              string
	Creator             string
	AnalysisA           string
	AnalysisB           string
	JudgeModel          string
	JudgeModelVersion   string
	JudgeTemperature    float64
	EvaluationCriteria  []string
	Verdicts            json.RawMessage
	JudgeTraceID        string
	Metadata            map[string]any
}

// ComparisonStore persists Comparisons and enforces the unordered-pair
// + judge-model uniqueness invariant (spec §4.7 Duplicate Guard) at the
// database layer, as the final re-check backstop behind the advisory
// lock taken in internal/comparison.
type ComparisonStore struct {
	pool *Pool
}

// NewComparisonStore builds a ComparisonStore over pool.
func NewComparisonStore(pool *Pool) *ComparisonStore {
	return &ComparisonStore{pool: pool}
}

// pairKey canonicalizes an unordered analysis pair so (a,b) and (b,a)
// collide on the same unique index entry.
func pairKey(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

// Insert persists a comparison, translating a unique-constraint
// violation on (tenant, pair_key, judge_model) into DuplicateConflict
// carrying the existing comparison's ID per spec §4.7.
func (s *ComparisonStore) Insert(ctx context.Context, c ComparisonRecord) error {
	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encoding comparison metadata: %w", err)
	}
	key := pairKey(c.AnalysisA, c.AnalysisB)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO comparisons (id, tenant, creator, analysis_a, analysis_b, judge_model, judge_model_version,
			judge_temperature, evaluation_criteria, verdicts, judge_trace_id, comparison_metadata, pair_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.Tenant, c.Creator, c.AnalysisA, c.AnalysisB, c.JudgeModel, c.JudgeModelVersion,
		c.JudgeTemperature, c.EvaluationCriteria, c.Verdicts, nullableString(c.JudgeTraceID), metadataJSON, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, lookupErr := s.existingIDForPair(ctx, c.Tenant, key, c.JudgeModel)
			if lookupErr == nil {
				return coreerrors.New(coreerrors.KindDuplicateConflict,
					"a comparison for this pair and judge model already exists").WithExistingID(existing)
			}
			return coreerrors.New(coreerrors.KindDuplicateConflict,
				"a comparison for this pair and judge model already exists")
		}
		return fmt.Errorf("storage: inserting comparison: %w", err)
	}
	return nil
}

func (s *ComparisonStore) existingIDForPair(ctx context.Context, tenant, key, judgeModel string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM comparisons WHERE tenant = $1 AND pair_key = $2 AND judge_model = $3`,
		tenant, key, judgeModel).Scan(&id)
	return id, err
}

// ExistsForPair reports whether a comparison already exists for the
// given unordered pair and judge model, for the pre-write duplicate
// check that runs before the expensive judge calls.
func (s *ComparisonStore) ExistsForPair(ctx context.Context, tenant, analysisA, analysisB, judgeModel string) (string, bool, error) {
	id, err := s.existingIDForPair(ctx, tenant, pairKey(analysisA, analysisB), judgeModel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: checking existing comparison: %w", err)
	}
	return id, true, nil
}

func scanComparison(row pgx.Row) (ComparisonRecord, error) {
	var c ComparisonRecord
	var judgeTraceID *string
	var verdictsJSON, metadataJSON []byte
	err := row.Scan(&c.ID, &c.Tenant, &c.Creator, &c.AnalysisA, &c.AnalysisB, &c.JudgeModel,
		&c.JudgeModelVersion, &c.JudgeTemperature, &c.EvaluationCriteria, &verdictsJSON,
		&judgeTraceID, &metadataJSON)
	if err != nil {
		return ComparisonRecord{}, err
	}
	if judgeTraceID != nil {
		c.JudgeTraceID = *judgeTraceID
	}
	c.Verdicts = json.RawMessage(verdictsJSON)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			return ComparisonRecord{}, fmt.Errorf("storage: decoding comparison metadata: %w", err)
		}
	}
	return c, nil
}

const comparisonColumns = `id, tenant, creator, analysis_a, analysis_b, judge_model, judge_model_version,
		       judge_temperature, evaluation_criteria, verdicts, judge_trace_id, comparison_metadata`

// ByID fetches a single comparison for the get_comparison read operation.
func (s *ComparisonStore) ByID(ctx context.Context, id string) (ComparisonRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+comparisonColumns+` FROM comparisons WHERE id = $1`, id)
	c, err := scanComparison(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ComparisonRecord{}, fmt.Errorf("storage: comparison %s not found: %w", id, err)
		}
		return ComparisonRecord{}, fmt.Errorf("storage: fetching comparison %s: %w", id, err)
	}
	return c, nil
}

// ListByTenant returns every comparison owned by tenant, newest first,
// for the list_comparisons read operation.
func (s *ComparisonStore) ListByTenant(ctx context.Context, tenant string) ([]ComparisonRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+comparisonColumns+` FROM comparisons WHERE tenant = $1 ORDER BY created_at DESC`, tenant)
	if err != nil {
		return nil, fmt.Errorf("storage: listing comparisons for tenant %s: %w", tenant, err)
	}
	defer rows.Close()

	var out []ComparisonRecord
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scanning comparison row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a comparison (delete_comparison). Comparisons carry no
// dependents of their own.
func (s *ComparisonStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM comparisons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deleting comparison %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: comparison %s not found", id)
	}
	return nil
}
