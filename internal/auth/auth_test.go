package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuseval/internal/db"
	"nexuseval/internal/db/repositories"
)

func newTestService(t *testing.T) (*Service, *db.DB) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return NewService(repositories.NewTenantRepo(database.Conn())), database
}

func TestDeriveAppID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "My App", "my-app"},
		{"underscores and punctuation", "Weird__Name!!", "weird-name"},
		{"already clean", "checkout-service", "checkout-service"},
		{"single char", "a", "a"},
		{"nothing usable", "!!!", ""},
		{"too long", strings.Repeat("a", 70), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveAppID(tt.input))
		})
	}
}

func TestRegisterAndValidate(t *testing.T) {
	svc, _ := newTestService(t)

	creds, err := svc.Register("My App", "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "my-app", creds.AppID)
	assert.Equal(t, "My App", creds.AppName)
	assert.True(t, strings.HasPrefix(creds.APIKey, "nxe_"))

	tenant := svc.Validate(creds.APIKey)
	require.NotNil(t, tenant)
	assert.Equal(t, "my-app", tenant.AppID)
	assert.Equal(t, "owner@example.com", tenant.OwnerEmail)

	assert.Nil(t, svc.Validate("nxe_not-a-real-key"))
	assert.Nil(t, svc.Validate(""))
	assert.Nil(t, svc.Validate(strings.Repeat("k", MaxAPIKeyLength+1)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register("My App", "")
	require.NoError(t, err)

	// "My-App" derives to the same id.
	_, err = svc.Register("My-App", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRegisterRejectsUnusableNames(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register("x", "")
	assert.Error(t, err)

	_, err = svc.Register("!!!", "")
	assert.Error(t, err)
}

func TestRotateKeyInvalidatesOldKey(t *testing.T) {
	svc, _ := newTestService(t)

	creds, err := svc.Register("My App", "")
	require.NoError(t, err)

	newKey, err := svc.RotateKey(creds.AppID)
	require.NoError(t, err)
	assert.NotEqual(t, creds.APIKey, newKey)

	assert.Nil(t, svc.Validate(creds.APIKey))
	require.NotNil(t, svc.Validate(newKey))
}

func TestRotateKeyUnknownApp(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RotateKey("no-such-app")
	assert.Error(t, err)

	_, err = svc.RotateKey("Invalid ID!")
	assert.Error(t, err)
}

func TestDeactivateStopsValidation(t *testing.T) {
	svc, _ := newTestService(t)

	creds, err := svc.Register("My App", "")
	require.NoError(t, err)

	assert.True(t, svc.Deactivate(creds.AppID))
	assert.Nil(t, svc.Validate(creds.APIKey))
	assert.False(t, svc.Deactivate(creds.AppID))
	assert.False(t, svc.Deactivate("no-such-app"))
}

func TestIsAdminIsEarliestActiveTenant(t *testing.T) {
	svc, database := newTestService(t)

	first, err := svc.Register("First App", "")
	require.NoError(t, err)
	second, err := svc.Register("Second App", "")
	require.NoError(t, err)

	// Registration stamps second-resolution timestamps; force a strict order.
	_, err = database.Conn().Exec(
		`UPDATE applications SET created_at = '2026-01-01T00:00:00Z' WHERE app_id = ?`, first.AppID)
	require.NoError(t, err)
	_, err = database.Conn().Exec(
		`UPDATE applications SET created_at = '2026-01-02T00:00:00Z' WHERE app_id = ?`, second.AppID)
	require.NoError(t, err)

	assert.True(t, svc.IsAdmin(first.AppID))
	assert.False(t, svc.IsAdmin(second.AppID))

	// Admin passes to the next-earliest tenant on deactivation.
	require.True(t, svc.Deactivate(first.AppID))
	assert.True(t, svc.IsAdmin(second.AppID))
	assert.False(t, svc.IsAdmin(first.AppID))
}

func TestListReturnsActiveTenantsOnly(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register("First App", "")
	require.NoError(t, err)
	second, err := svc.Register("Second App", "")
	require.NoError(t, err)
	require.True(t, svc.Deactivate(second.AppID))

	tenants, err := svc.List()
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "first-app", tenants[0].AppID)
}

func TestHashKeyRejectsOversizedInput(t *testing.T) {
	assert.Len(t, HashKey("nxe_abc"), 64)
	assert.Equal(t, HashKey("same"), HashKey("same"))
	assert.NotEqual(t, HashKey("one"), HashKey("two"))
	assert.Empty(t, HashKey(strings.Repeat("k", MaxAPIKeyLength+1)))
}
