package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"nexuseval/internal/db/repositories"
	"nexuseval/internal/logging"
)

const (
	MaxAppNameLength = 128
	MaxEmailLength   = 256
	MaxAPIKeyLength  = 512
	MaxAppIDLength   = 64

	keyPrefix = "nxe_"
)

var (
	validAppIDRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)
	invalidCharsRe = regexp.MustCompile(`[^a-z0-9-]`)
	dashRunsRe     = regexp.MustCompile(`-+`)
)

// Credentials is what a successful registration hands back. The raw key is
// shown exactly once; only its hash survives.
type Credentials struct {
	AppID   string `json:"app_id"`
	AppName string `json:"app_name"`
	APIKey  string `json:"api_key"`
}

// TenantInfo identifies the caller after key validation.
type TenantInfo struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

// Service is the tenant gate. Every data-bearing request resolves its API key
// through here before touching storage.
type Service struct {
	tenants *repositories.TenantRepo
}

func NewService(tenants *repositories.TenantRepo) *Service {
	return &Service{tenants: tenants}
}

// Register creates a tenant from a display name and returns its credentials.
func (s *Service) Register(appName, ownerEmail string) (*Credentials, error) {
	appName = strings.TrimSpace(appName)
	if len(appName) > MaxAppNameLength {
		appName = appName[:MaxAppNameLength]
	}
	ownerEmail = strings.TrimSpace(ownerEmail)
	if len(ownerEmail) > MaxEmailLength {
		ownerEmail = ownerEmail[:MaxEmailLength]
	}
	if len(appName) < 2 {
		return nil, fmt.Errorf("application name must be at least 2 characters")
	}

	appID := DeriveAppID(appName)
	if appID == "" {
		return nil, fmt.Errorf("application name must contain at least one alphanumeric character")
	}

	exists, err := s.tenants.Exists(appID)
	if err != nil {
		logging.Error("Database error during registration: %v", err)
		return nil, fmt.Errorf("registration failed due to a server error")
	}
	if exists {
		return nil, fmt.Errorf("application %q already exists", appID)
	}

	apiKey, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	if err := s.tenants.Create(appID, appName, HashKey(apiKey), ownerEmail); err != nil {
		logging.Error("Database error during registration: %v", err)
		return nil, fmt.Errorf("registration failed due to a server error")
	}

	return &Credentials{AppID: appID, AppName: appName, APIKey: apiKey}, nil
}

// Validate resolves an API key to its tenant. Returns nil for unknown,
// oversized, or deactivated keys.
func (s *Service) Validate(apiKey string) *TenantInfo {
	if apiKey == "" || len(apiKey) > MaxAPIKeyLength {
		return nil
	}
	tenant, err := s.tenants.FindByKeyHash(HashKey(apiKey))
	if err != nil {
		logging.Error("Database error during API key validation: %v", err)
		return nil
	}
	if tenant == nil || !tenant.IsActive {
		return nil
	}
	return &TenantInfo{AppID: tenant.AppID, AppName: tenant.AppName, OwnerEmail: tenant.OwnerEmail}
}

// RotateKey issues a fresh key for an active tenant, invalidating the old one.
func (s *Service) RotateKey(appID string) (string, error) {
	if !validAppIDRe.MatchString(appID) {
		return "", fmt.Errorf("invalid application id")
	}
	newKey, err := generateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	ok, err := s.tenants.RotateKey(appID, HashKey(newKey))
	if err != nil {
		logging.Error("Database error during key rotation: %v", err)
		return "", fmt.Errorf("key rotation failed due to a server error")
	}
	if !ok {
		return "", fmt.Errorf("application %q not found or inactive", appID)
	}
	return newKey, nil
}

// Deactivate soft-deletes a tenant. Its history stays in storage but its key
// stops validating.
func (s *Service) Deactivate(appID string) bool {
	if !validAppIDRe.MatchString(appID) {
		return false
	}
	ok, err := s.tenants.Deactivate(appID)
	if err != nil {
		logging.Error("Database error during deactivation: %v", err)
		return false
	}
	return ok
}

// List returns all active tenants without secrets.
func (s *Service) List() ([]repositories.Tenant, error) {
	return s.tenants.ListActive()
}

// IsAdmin reports whether appID is the earliest-created active tenant.
func (s *Service) IsAdmin(appID string) bool {
	tenant, err := s.tenants.EarliestActive()
	if err != nil || tenant == nil {
		return false
	}
	return tenant.AppID == appID
}

// DeriveAppID turns a display name into a lowercase-kebab identifier, or ""
// when nothing usable remains.
func DeriveAppID(appName string) string {
	id := strings.ToLower(appName)
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, "_", "-")
	id = invalidCharsRe.ReplaceAllString(id, "")
	id = dashRunsRe.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" || len(id) > MaxAppIDLength || !validAppIDRe.MatchString(id) {
		return ""
	}
	return id
}

// HashKey returns the SHA-256 hex of an API key, or "" for oversized input.
func HashKey(apiKey string) string {
	if len(apiKey) > MaxAPIKeyLength {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
