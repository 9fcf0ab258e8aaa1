package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save upserts the Analysis document. Ledger writes go through AppendLedger
// only.
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO analyses
(id, project_id, state, fail_reason, fail_message,
 config_json, static_raw, static_json, ai_json, current_json,
 recommendations_json, report_ref_json, reports_json,
 created_at, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
 state=EXCLUDED.state, fail_reason=EXCLUDED.fail_reason, fail_message=EXCLUDED.fail_message,
 static_raw=EXCLUDED.static_raw, static_json=EXCLUDED.static_json,
 ai_json=EXCLUDED.ai_json, current_json=EXCLUDED.current_json,
 recommendations_json=EXCLUDED.recommendations_json,
 report_ref_json=EXCLUDED.report_ref_json, reports_json=EXCLUDED.reports_json,
 started_at=EXCLUDED.started_at, completed_at=EXCLUDED.completed_at;
`
	configB, err := json.Marshal(a.Config)
	if err != nil {
		return err
	}
	staticB, err := jsonOrNull(a.StaticResult)
	if err != nil {
		return err
	}
	aiB, err := jsonOrNull(a.AIResult)
	if err != nil {
		return err
	}
	currentB, err := jsonOrNull(a.CurrentFindings)
	if err != nil {
		return err
	}
	recsB, err := jsonOrNull(a.Recommendations)
	if err != nil {
		return err
	}
	refB, err := jsonOrNull(a.ReportRef)
	if err != nil {
		return err
	}
	reportsB, err := jsonOrNull(a.Reports)
	if err != nil {
		return err
	}
	var staticRaw any
	if len(a.StaticRaw) > 0 {
		staticRaw = []byte(a.StaticRaw)
	}

	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.ProjectID, a.State, a.FailReason, a.FailMessage,
		configB, staticRaw, staticB, aiB, currentB,
		recsB, refB, reportsB,
		a.CreatedAt, a.StartedAt, a.CompletedAt,
	)
	return err
}

const analysisSelect = `
SELECT id, project_id, state, fail_reason, fail_message,
       config_json, static_raw, static_json, ai_json, current_json,
       recommendations_json, report_ref_json, reports_json, ledger_json,
       created_at, started_at, completed_at
FROM analyses`

func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	row := r.db.QueryRowContext(ctx, analysisSelect+" WHERE id=$1 LIMIT 1;", id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *AnalysisRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Analysis, error) {
	rows, err := r.db.QueryContext(ctx, analysisSelect+" WHERE project_id=$1 ORDER BY created_at DESC;", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.Analysis, error) {
	var a domain.Analysis
	var configB, staticRaw, staticB, aiB, currentB, recsB, refB, reportsB, ledgerB []byte
	if err := row.Scan(
		&a.ID, &a.ProjectID, &a.State, &a.FailReason, &a.FailMessage,
		&configB, &staticRaw, &staticB, &aiB, &currentB,
		&recsB, &refB, &reportsB, &ledgerB,
		&a.CreatedAt, &a.StartedAt, &a.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(staticRaw) > 0 {
		a.StaticRaw = json.RawMessage(staticRaw)
	}
	for _, col := range []struct {
		data []byte
		dst  any
		name string
	}{
		{configB, &a.Config, "config"},
		{staticB, &a.StaticResult, "static result"},
		{aiB, &a.AIResult, "ai result"},
		{currentB, &a.CurrentFindings, "current findings"},
		{recsB, &a.Recommendations, "recommendations"},
		{refB, &a.ReportRef, "report ref"},
		{reportsB, &a.Reports, "reports"},
		{ledgerB, &a.Ledger, "ledger"},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", col.name, err)
		}
	}
	return &a, nil
}

func (r *AnalysisRepository) AppendLedger(ctx context.Context, id domain.AnalysisID, e domain.LedgerEntry) error {
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE analyses
SET ledger_json = COALESCE(ledger_json, '[]'::jsonb) || $1::jsonb
WHERE id = $2;`
	res, err := r.db.ExecContext(ctx, q, entry, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.Errorf(domain.ErrNotFound, "analysis %s", id)
	}
	return err
}

func jsonOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}
