package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

type FeedbackEntry struct {
	ID               int64  `json:"id"`
	Timestamp        string `json:"timestamp"`
	TenantID         string `json:"tenant_id"`
	Rating           int    `json:"rating"`
	Suggestion       string `json:"suggestion,omitempty"`
	AdminResponse    string `json:"admin_response,omitempty"`
	AdminRespondedAt string `json:"admin_responded_at,omitempty"`
}

type FeedbackRepo struct {
	db *sql.DB
}

func NewFeedbackRepo(db *sql.DB) *FeedbackRepo {
	return &FeedbackRepo{db: db}
}

// Save records one feedback entry. Rating must be in [1,5].
func (r *FeedbackRepo) Save(tenantID string, rating int, suggestion string) (int64, error) {
	if rating < 1 || rating > 5 {
		return 0, fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}
	res, err := r.db.Exec(
		`INSERT INTO feedback (timestamp, tenant_id, rating, suggestion) VALUES (?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339), tenantID, rating, suggestion,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns all feedback entries, newest first.
func (r *FeedbackRepo) List() ([]FeedbackEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, timestamp, tenant_id, rating, suggestion, admin_response, admin_responded_at
		 FROM feedback ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FeedbackEntry
	for rows.Next() {
		var (
			e                             FeedbackEntry
			tenantID, suggestion          sql.NullString
			adminResponse, adminRespondAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &tenantID, &e.Rating, &suggestion, &adminResponse, &adminRespondAt); err != nil {
			return nil, err
		}
		e.TenantID = tenantID.String
		e.Suggestion = suggestion.String
		e.AdminResponse = adminResponse.String
		e.AdminRespondedAt = adminRespondAt.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Respond attaches an admin response to an existing entry.
func (r *FeedbackRepo) Respond(id int64, response string) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE feedback SET admin_response = ?, admin_responded_at = ? WHERE id = ?`,
		response, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
