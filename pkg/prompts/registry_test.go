package prompts

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(afero.NewMemMapFs(), "/prompts")
	require.NoError(t, r.EnsureDefaults())
	return r
}

func TestGetAbsentKeyReturnsNil(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs(), "/prompts")
	entry, err := r.Get("semantic")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetRejectsMalformedKeys(t *testing.T) {
	r := newTestRegistry(t)
	for _, key := range []string{"../escape", "a/b", "", "key with spaces"} {
		_, err := r.Get(key)
		assert.Error(t, err, key)
	}
}

func TestEnsureDefaultsWritesAllKnownKeys(t *testing.T) {
	r := newTestRegistry(t)

	for _, key := range []string{KeySemantic, KeyFuzzy, KeyConsistency, KeyToxicity, KeyRecommendation} {
		entry, err := r.Get(key)
		require.NoError(t, err)
		require.NotNil(t, entry, key)
		assert.Equal(t, key, entry.PromptKey)
		assert.NotEmpty(t, entry.SystemMessage)
		assert.NotEmpty(t, entry.UserMessageTemplate)
	}
}

func TestEnsureDefaultsKeepsCustomizedEntries(t *testing.T) {
	r := newTestRegistry(t)

	custom := "A tuned system message."
	changed, err := r.UpdateEntry(KeySemantic, Update{SystemMessage: &custom})
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, r.EnsureDefaults())

	entry, err := r.Get(KeySemantic)
	require.NoError(t, err)
	assert.Equal(t, custom, entry.SystemMessage)
}

func TestListSortedAndSkipsUnparseableFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRegistry(fs, "/prompts")
	require.NoError(t, r.EnsureDefaults())
	require.NoError(t, afero.WriteFile(fs, "/prompts/broken.json", []byte("{nope"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prompts/notes.txt", []byte("not a prompt"), 0o644))

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].PromptKey, entries[i].PromptKey)
	}
}

func TestListMissingDirIsEmpty(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs(), "/nowhere")
	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateEntryMergesAndStamps(t *testing.T) {
	r := newTestRegistry(t)

	title := "Tuned Toxicity Check"
	temp := 0.2
	maxTokens := 400
	changed, err := r.UpdateEntry(KeyToxicity, Update{
		Title:       &title,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)
	require.True(t, changed)

	entry, err := r.Get(KeyToxicity)
	require.NoError(t, err)
	assert.Equal(t, title, entry.Title)
	assert.Equal(t, temp, entry.Temperature)
	assert.Equal(t, maxTokens, entry.MaxTokens)
	assert.NotEmpty(t, entry.UpdatedAt)
	// Untouched fields survive the merge.
	assert.NotEmpty(t, entry.SystemMessage)
}

func TestUpdateEntryNoChangeIsNoOp(t *testing.T) {
	r := newTestRegistry(t)

	before, err := r.Get(KeyFuzzy)
	require.NoError(t, err)

	changed, err := r.UpdateEntry(KeyFuzzy, Update{Title: &before.Title})
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := r.Get(KeyFuzzy)
	require.NoError(t, err)
	assert.Empty(t, after.UpdatedAt)
}

func TestUpdateEntryUnknownKey(t *testing.T) {
	r := newTestRegistry(t)

	title := "whatever"
	changed, err := r.UpdateEntry("no-such-prompt", Update{Title: &title})
	require.NoError(t, err)
	assert.False(t, changed)
}
