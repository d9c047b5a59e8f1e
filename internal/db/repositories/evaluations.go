package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"nexuseval/internal/logging"
)

// EvaluationRecord is one persisted run. ResultJSON and EventsJSON are stored
// as opaque documents; Result/Events hold their decoded forms on reads.
type EvaluationRecord struct {
	ID        int64                  `json:"id"`
	Timestamp string                 `json:"timestamp"`
	TenantID  string                 `json:"tenant_id"`
	RunID     string                 `json:"run_id,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Events    []interface{}          `json:"events,omitempty"`
}

type EvaluationRepo struct {
	db *sql.DB
}

func NewEvaluationRepo(db *sql.DB) *EvaluationRepo {
	return &EvaluationRepo{db: db}
}

// Save appends a run record and returns its surrogate id.
func (r *EvaluationRepo) Save(tenantID, runID, resultJSON, eventsJSON string) (int64, error) {
	if eventsJSON == "" {
		eventsJSON = "[]"
	}
	res, err := r.db.Exec(
		`INSERT INTO evaluations (timestamp, result_json, events_json, run_id, tenant_id) VALUES (?, ?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339), sanitizeJSON(resultJSON), sanitizeJSON(eventsJSON), runID, tenantID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetLatest returns the tenant's most recent run, or nil when none exist.
func (r *EvaluationRepo) GetLatest(tenantID string) (*EvaluationRecord, error) {
	row := r.db.QueryRow(
		`SELECT id, timestamp, result_json, events_json, run_id FROM evaluations
		 WHERE tenant_id = ? ORDER BY id DESC LIMIT 1`, tenantID)
	return scanRecord(row)
}

// GetByID returns a run only when it belongs to the given tenant.
func (r *EvaluationRepo) GetByID(id int64, tenantID string) (*EvaluationRecord, error) {
	row := r.db.QueryRow(
		`SELECT id, timestamp, result_json, events_json, run_id FROM evaluations
		 WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanRecord(row)
}

// ListByTenant returns the tenant's run history, newest first. Rows whose
// result column fails to decode are skipped rather than failing the listing.
func (r *EvaluationRepo) ListByTenant(tenantID string) ([]EvaluationRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, timestamp, result_json, run_id FROM evaluations
		 WHERE tenant_id = ? ORDER BY id DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EvaluationRecord
	for rows.Next() {
		var (
			rec        EvaluationRecord
			resultJSON string
			runID      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &resultJSON, &runID); err != nil {
			return nil, err
		}
		rec.TenantID = tenantID
		rec.RunID = runID.String
		if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
			logging.Error("Skipping evaluation record %d with unparseable result: %v", rec.ID, err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row *sql.Row) (*EvaluationRecord, error) {
	var (
		rec        EvaluationRecord
		resultJSON string
		eventsJSON sql.NullString
		runID      sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Timestamp, &resultJSON, &eventsJSON, &runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.RunID = runID.String
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, err
	}
	if eventsJSON.Valid && eventsJSON.String != "" {
		if err := json.Unmarshal([]byte(eventsJSON.String), &rec.Events); err != nil {
			logging.Error("Unparseable events for evaluation %d: %v", rec.ID, err)
			rec.Events = []interface{}{}
		}
	}
	return &rec, nil
}
