package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/database"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Environment)
	assert.True(t, cfg.WALChecksums)
	assert.EqualValues(t, database.DefaultCheckpointThreshold, cfg.CheckpointThreshold)
	assert.Equal(t, 15*time.Second, cfg.CloseTimeout)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"GRAPHDB_DATABASE_PATH=/var/lib/graph.db\nGRAPHDB_MAX_THREADS=3\nGRAPHDB_READ_ONLY=true\n",
	), 0o600))
	t.Setenv("GRAPHDB_WAL_CHECKSUMS", "false")
	t.Cleanup(func() {
		os.Unsetenv("GRAPHDB_DATABASE_PATH")
		os.Unsetenv("GRAPHDB_MAX_THREADS")
		os.Unsetenv("GRAPHDB_READ_ONLY")
	})

	cfg, err := LoadConfig(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	opts := cfg.DatabaseOptions()
	assert.Equal(t, "/var/lib/graph.db", opts.Path)
	assert.Equal(t, 3, opts.MaxThreads)
	assert.True(t, opts.ReadOnly)
	assert.False(t, opts.EnableChecksums)
}

func TestEntrypoint(t *testing.T) {
	t.Setenv("GRAPHDB_ENVIRONMENT", EnvLocal)
	fs := afero.NewMemMapFs()

	e := &Entrypoint{Override: func(o *database.Options) {
		o.FS = fs
		o.Path = "/db/graph.db"
	}}
	require.NoError(t, e.Init(context.Background()))

	require.NoError(t, e.Run(context.Background(), func(_ context.Context, conn *database.Connection) error {
		_, err := conn.CreateSequence("ids", 1, 1)
		return err
	}))
	require.NoError(t, e.Close())

	exists, err := afero.Exists(fs, "/db/graph.db")
	require.NoError(t, err)
	assert.True(t, exists)
}
