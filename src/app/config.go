package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/graphcore/src/database"
)

const (
	EnvDev   = "dev"
	EnvLocal = "local"
	EnvProd  = "prod"

	envPrefix = "GRAPHDB"
)

type Config struct {
	Environment         string        `envconfig:"ENVIRONMENT"          default:"dev"`
	DatabasePath        string        `envconfig:"DATABASE_PATH"        default:"./data/graph.db"`
	InMemory            bool          `envconfig:"IN_MEMORY"            default:"false"`
	ReadOnly            bool          `envconfig:"READ_ONLY"            default:"false"`
	MaxThreads          int           `envconfig:"MAX_THREADS"          default:"0"`
	WALChecksums        bool          `envconfig:"WAL_CHECKSUMS"        default:"true"`
	CheckpointThreshold int64         `envconfig:"CHECKPOINT_THRESHOLD" default:"16777216"`
	CloseTimeout        time.Duration `envconfig:"CLOSE_TIMEOUT"        default:"15s"`
}

// LoadConfig reads GRAPHDB_* variables. The given .env files are loaded
// first; missing ones are skipped.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) DatabaseOptions() database.Options {
	opts := database.DefaultOptions(c.DatabasePath)
	opts.InMemory = c.InMemory
	opts.ReadOnly = c.ReadOnly
	opts.MaxThreads = c.MaxThreads
	opts.EnableChecksums = c.WALChecksums
	opts.CheckpointThreshold = c.CheckpointThreshold
	return opts
}
