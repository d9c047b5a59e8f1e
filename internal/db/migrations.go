package db

import (
	"database/sql"
	"fmt"

	"nexuseval/internal/logging"
)

// RunMigrations brings the schema up to date without a migration tool. The
// store is append-only and every schema change so far has been an added
// column, so startup inspects what exists and issues the minimal DDL:
// missing tables are created, missing columns added with ALTER TABLE, and a
// legacy evaluations table whose shape is incompatible is renamed to a
// sidecar so its rows survive.
func RunMigrations(conn *sql.DB) error {
	if err := migrateEvaluations(conn); err != nil {
		return err
	}
	if err := migrateFeedback(conn); err != nil {
		return err
	}
	if err := migrateApplications(conn); err != nil {
		return err
	}
	return nil
}

const createEvaluationsSQL = `
	CREATE TABLE evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		result_json TEXT NOT NULL,
		events_json TEXT,
		run_id TEXT,
		tenant_id TEXT
	)`

func migrateEvaluations(conn *sql.DB) error {
	exists, err := tableExists(conn, "evaluations")
	if err != nil {
		return err
	}
	if !exists {
		_, err := conn.Exec(createEvaluationsSQL)
		if err != nil {
			return fmt.Errorf("failed to create evaluations table: %w", err)
		}
		return nil
	}

	columns, err := tableColumns(conn, "evaluations")
	if err != nil {
		return err
	}

	// A table with a name column but no result_json predates the current
	// shape entirely; park it and start fresh.
	if columns["name"] && !columns["result_json"] {
		logging.Info("Detected legacy evaluations schema, preserving rows in evaluations_old")
		if _, err := conn.Exec("ALTER TABLE evaluations RENAME TO evaluations_old"); err != nil {
			return fmt.Errorf("failed to rename legacy evaluations table: %w", err)
		}
		if _, err := conn.Exec(createEvaluationsSQL); err != nil {
			return fmt.Errorf("failed to create evaluations table: %w", err)
		}
		return nil
	}

	for _, col := range []string{"events_json", "run_id", "tenant_id"} {
		if !columns[col] {
			if _, err := conn.Exec(fmt.Sprintf("ALTER TABLE evaluations ADD COLUMN %s TEXT", col)); err != nil {
				return fmt.Errorf("failed to add column %s: %w", col, err)
			}
		}
	}
	return nil
}

func migrateFeedback(conn *sql.DB) error {
	exists, err := tableExists(conn, "feedback")
	if err != nil {
		return err
	}
	if !exists {
		_, err := conn.Exec(`
			CREATE TABLE feedback (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				tenant_id TEXT,
				rating INTEGER NOT NULL,
				suggestion TEXT,
				admin_response TEXT,
				admin_responded_at TEXT
			)`)
		if err != nil {
			return fmt.Errorf("failed to create feedback table: %w", err)
		}
		return nil
	}

	columns, err := tableColumns(conn, "feedback")
	if err != nil {
		return err
	}
	for _, col := range []string{"tenant_id", "admin_response", "admin_responded_at"} {
		if !columns[col] {
			if _, err := conn.Exec(fmt.Sprintf("ALTER TABLE feedback ADD COLUMN %s TEXT", col)); err != nil {
				return fmt.Errorf("failed to add column %s: %w", col, err)
			}
		}
	}
	return nil
}

func migrateApplications(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS applications (
			app_id TEXT PRIMARY KEY,
			app_name TEXT NOT NULL,
			api_key_hash TEXT NOT NULL UNIQUE,
			owner_email TEXT,
			created_at TEXT NOT NULL,
			is_active INTEGER DEFAULT 1
		)`)
	if err != nil {
		return fmt.Errorf("failed to create applications table: %w", err)
	}
	return nil
}

func tableExists(conn *sql.DB, name string) (bool, error) {
	var found string
	err := conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return true, nil
}

func tableColumns(conn *sql.DB, table string) (map[string]bool, error) {
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
