package eval

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAndSensitive(t *testing.T) {
	fp := Fingerprint("q", "a", []string{"c1", "c2"}, "gt", "gpt-4o-mini", 0.0)
	assert.Equal(t, fp, Fingerprint("q", "a", []string{"c1", "c2"}, "gt", "gpt-4o-mini", 0.0))

	assert.NotEqual(t, fp, Fingerprint("q2", "a", []string{"c1", "c2"}, "gt", "gpt-4o-mini", 0.0))
	assert.NotEqual(t, fp, Fingerprint("q", "a", []string{"c1"}, "gt", "gpt-4o-mini", 0.0))
	assert.NotEqual(t, fp, Fingerprint("q", "a", []string{"c1", "c2"}, "gt", "gpt-4o", 0.0))
	assert.NotEqual(t, fp, Fingerprint("q", "a", []string{"c1", "c2"}, "gt", "gpt-4o-mini", 0.7))
}

func TestCachePutGetSaveReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCache(fs, "/cache.json", true)

	m := RAGMetrics{Faithfulness: 0.9, RQS: 0.8}
	c.Put("fp1", m)
	c.Save()

	reloaded := NewCache(fs, "/cache.json", true)
	got, ok := reloaded.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Equal(t, 1, reloaded.Len())
}

func TestCacheCorruptSnapshotStartsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cache.json", []byte("{not json"), 0o644))

	c := NewCache(fs, "/cache.json", true)
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("anything")
	assert.False(t, ok)
}

func TestCacheDisabledMissesEverything(t *testing.T) {
	c := NewCache(afero.NewMemMapFs(), "/cache.json", false)
	c.Put("fp", RAGMetrics{RQS: 1.0})
	_, ok := c.Get("fp")
	assert.False(t, ok)
	assert.False(t, c.Enabled())

	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestCacheCountsHitsAndMisses(t *testing.T) {
	c := NewCache(afero.NewMemMapFs(), "/cache.json", true)
	c.Put("known", RAGMetrics{})

	_, _ = c.Get("known")
	_, _ = c.Get("unknown")
	_, _ = c.Get("known")

	hits, misses := c.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}
