package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCreatesSchema(t *testing.T) {
	database, err := New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Migrate())

	for _, table := range []string{"evaluations", "feedback", "applications"} {
		exists, err := tableExists(database.Conn(), table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	// Running migrations again is a no-op.
	require.NoError(t, database.Migrate())
}

func TestMigrateAddsMissingColumns(t *testing.T) {
	database, err := New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Conn().Exec(`
		CREATE TABLE evaluations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			result_json TEXT NOT NULL
		)`)
	require.NoError(t, err)
	_, err = database.Conn().Exec(
		`INSERT INTO evaluations (timestamp, result_json) VALUES ('2026-01-01T00:00:00Z', '{}')`)
	require.NoError(t, err)

	require.NoError(t, database.Migrate())

	columns, err := tableColumns(database.Conn(), "evaluations")
	require.NoError(t, err)
	for _, col := range []string{"events_json", "run_id", "tenant_id"} {
		assert.True(t, columns[col], col)
	}

	// The pre-existing row survives the column additions.
	var count int
	require.NoError(t, database.Conn().QueryRow(`SELECT COUNT(*) FROM evaluations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrateParksIncompatibleLegacyTable(t *testing.T) {
	database, err := New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Conn().Exec(`CREATE TABLE evaluations (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = database.Conn().Exec(`INSERT INTO evaluations (name) VALUES ('old row')`)
	require.NoError(t, err)

	require.NoError(t, database.Migrate())

	parked, err := tableExists(database.Conn(), "evaluations_old")
	require.NoError(t, err)
	assert.True(t, parked)

	var name string
	require.NoError(t, database.Conn().QueryRow(`SELECT name FROM evaluations_old`).Scan(&name))
	assert.Equal(t, "old row", name)

	columns, err := tableColumns(database.Conn(), "evaluations")
	require.NoError(t, err)
	assert.True(t, columns["result_json"])
	assert.False(t, columns["name"])
}
