package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Recall.KDefault, cfg.Recall.KDefault)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "athena.yaml")

	cfg := DefaultConfig()
	cfg.Recall.KDefault = 9
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Recall.KDefault)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ATHENA_RECALL_K_DEFAULT", "3")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recall.KDefault)
}

func TestValidateRejectsBadPoolBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DB.PoolMin = 5
	cfg.DB.PoolMax = 2
	require.Error(t, cfg.Validate())
}

func TestPoolBoundsFormula(t *testing.T) {
	cases := []struct {
		workers        int
		min, max       int
	}{
		{workers: 10, min: 2, max: 10},
		{workers: 40, min: 4, max: 20},
		{workers: 100, min: 5, max: 20},
		{workers: 1, min: 2, max: 10},
	}
	for _, c := range cases {
		min, max := PoolBounds(c.workers)
		assert.Equal(t, c.min, min, "workers=%d", c.workers)
		assert.Equal(t, c.max, max, "workers=%d", c.workers)
	}
}
