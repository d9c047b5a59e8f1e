package repositories

import (
	"database/sql"
	"time"
)

// Tenant is a registered application. Only the SHA-256 hex of its API key is
// ever stored.
type Tenant struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	OwnerEmail string `json:"owner_email,omitempty"`
	CreatedAt  string `json:"created_at"`
	IsActive   bool   `json:"is_active"`
}

type TenantRepo struct {
	db *sql.DB
}

func NewTenantRepo(db *sql.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

func (r *TenantRepo) Create(appID, appName, keyHash, ownerEmail string) error {
	_, err := r.db.Exec(
		`INSERT INTO applications (app_id, app_name, api_key_hash, owner_email, created_at) VALUES (?, ?, ?, ?, ?)`,
		appID, appName, keyHash, ownerEmail, time.Now().Format(time.RFC3339),
	)
	return err
}

func (r *TenantRepo) Exists(appID string) (bool, error) {
	var found string
	err := r.db.QueryRow(`SELECT app_id FROM applications WHERE app_id = ?`, appID).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByKeyHash resolves a key hash to its tenant regardless of active state;
// callers decide whether inactive tenants are acceptable.
func (r *TenantRepo) FindByKeyHash(keyHash string) (*Tenant, error) {
	row := r.db.QueryRow(
		`SELECT app_id, app_name, owner_email, created_at, is_active FROM applications WHERE api_key_hash = ?`,
		keyHash)
	return scanTenant(row)
}

// RotateKey swaps in a new key hash for an active tenant. Returns false when
// the tenant is unknown or inactive.
func (r *TenantRepo) RotateKey(appID, newHash string) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE applications SET api_key_hash = ? WHERE app_id = ? AND is_active = 1`,
		newHash, appID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Deactivate soft-deletes a tenant.
func (r *TenantRepo) Deactivate(appID string) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE applications SET is_active = 0 WHERE app_id = ? AND is_active = 1`, appID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListActive returns active tenants, newest first.
func (r *TenantRepo) ListActive() ([]Tenant, error) {
	rows, err := r.db.Query(
		`SELECT app_id, app_name, owner_email, created_at, is_active FROM applications
		 WHERE is_active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var (
			t     Tenant
			email sql.NullString
		)
		if err := rows.Scan(&t.AppID, &t.AppName, &email, &t.CreatedAt, &t.IsActive); err != nil {
			return nil, err
		}
		t.OwnerEmail = email.String
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// EarliestActive returns the first-registered active tenant, the admin.
func (r *TenantRepo) EarliestActive() (*Tenant, error) {
	row := r.db.QueryRow(
		`SELECT app_id, app_name, owner_email, created_at, is_active FROM applications
		 WHERE is_active = 1 ORDER BY created_at ASC LIMIT 1`)
	return scanTenant(row)
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	var (
		t     Tenant
		email sql.NullString
	)
	err := row.Scan(&t.AppID, &t.AppName, &email, &t.CreatedAt, &t.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.OwnerEmail = email.String
	return &t, nil
}
