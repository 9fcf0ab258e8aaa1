package mysql

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

// Save upserts the Analysis document. The ledger column is deliberately not
// written here; it only grows through AppendLedger.
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO analyses
(id, project_id, state, fail_reason, fail_message,
 config_json, static_raw, static_json, ai_json, current_json,
 recommendations_json, report_ref_json, reports_json,
 created_at, started_at, completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 state=VALUES(state), fail_reason=VALUES(fail_reason), fail_message=VALUES(fail_message),
 static_raw=VALUES(static_raw), static_json=VALUES(static_json),
 ai_json=VALUES(ai_json), current_json=VALUES(current_json),
 recommendations_json=VALUES(recommendations_json),
 report_ref_json=VALUES(report_ref_json), reports_json=VALUES(reports_json),
 started_at=VALUES(started_at), completed_at=VALUES(completed_at);
`
	cols, err := marshalColumns(a)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.ProjectID, a.State, a.FailReason, a.FailMessage,
		cols.config, cols.staticRaw, cols.static, cols.ai, cols.current,
		cols.recommendations, cols.reportRef, cols.reports,
		a.CreatedAt, a.StartedAt, a.CompletedAt,
	)
	return err
}

type analysisColumns struct {
	config, staticRaw, static, ai, current, recommendations, reportRef, reports any
}

func marshalColumns(a *domain.Analysis) (analysisColumns, error) {
	var c analysisColumns
	var err error
	if c.config, err = json.Marshal(a.Config); err != nil {
		return c, err
	}
	if len(a.StaticRaw) > 0 {
		c.staticRaw = []byte(a.StaticRaw)
	}
	if c.static, err = jsonOrNull(a.StaticResult); err != nil {
		return c, err
	}
	if c.ai, err = jsonOrNull(a.AIResult); err != nil {
		return c, err
	}
	if c.current, err = jsonOrNull(a.CurrentFindings); err != nil {
		return c, err
	}
	if c.recommendations, err = jsonOrNull(a.Recommendations); err != nil {
		return c, err
	}
	if c.reportRef, err = jsonOrNull(a.ReportRef); err != nil {
		return c, err
	}
	if c.reports, err = jsonOrNull(a.Reports); err != nil {
		return c, err
	}
	return c, nil
}

const analysisSelect = `
SELECT id, project_id, state, fail_reason, fail_message,
       config_json, static_raw, static_json, ai_json, current_json,
       recommendations_json, report_ref_json, reports_json, ledger_json,
       created_at, started_at, completed_at
FROM analyses`

// Get returns nil, nil when no record exists; NotFound is the caller's call.
func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	row := r.db.QueryRowContext(ctx, analysisSelect+" WHERE id=? LIMIT 1;", id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *AnalysisRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Analysis, error) {
	rows, err := r.db.QueryContext(ctx, analysisSelect+" WHERE project_id=? ORDER BY created_at DESC;", projectID)
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
	if err := unmarshalInto(configB, &a.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(staticRaw) > 0 {
		a.StaticRaw = json.RawMessage(staticRaw)
	}
	if err := unmarshalInto(staticB, &a.StaticResult); err != nil {
		return nil, fmt.Errorf("decoding static result: %w", err)
	}
	if err := unmarshalInto(aiB, &a.AIResult); err != nil {
		return nil, fmt.Errorf("decoding ai result: %w", err)
	}
	if err := unmarshalInto(currentB, &a.CurrentFindings); err != nil {
		return nil, fmt.Errorf("decoding current findings: %w", err)
	}
	if err := unmarshalInto(recsB, &a.Recommendations); err != nil {
		return nil, fmt.Errorf("decoding recommendations: %w", err)
	}
	if err := unmarshalInto(refB, &a.ReportRef); err != nil {
		return nil, fmt.Errorf("decoding report ref: %w", err)
	}
	if err := unmarshalInto(reportsB, &a.Reports); err != nil {
		return nil, fmt.Errorf("decoding reports: %w", err)
	}
	if err := unmarshalInto(ledgerB, &a.Ledger); err != nil {
		return nil, fmt.Errorf("decoding ledger: %w", err)
	}
	return &a, nil
}

// AppendLedger appends one entry to the ledger array without rewriting it.
func (r *AnalysisRepository) AppendLedger(ctx context.Context, id domain.AnalysisID, e domain.LedgerEntry) error {
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE analyses
SET ledger_json = JSON_ARRAY_APPEND(COALESCE(ledger_json, JSON_ARRAY()), '$', CAST(? AS JSON))
WHERE id = ?;`
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
