package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/database"
)

// Entrypoint opens the configured database for one command.
type Entrypoint struct {
	EnvFiles []string
	// Override adjusts the database options derived from the environment.
	Override func(*database.Options)

	Config Config

	db  *database.Database
	log src.Logger
}

func (e *Entrypoint) Init(_ context.Context) error {
	cfg, err := LoadConfig(e.EnvFiles...)
	if err != nil {
		return err
	}
	e.Config = cfg

	log, err := NewLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	e.log = log

	opts := cfg.DatabaseOptions()
	opts.Log = log
	if e.Override != nil {
		e.Override(&opts)
	}

	e.db, err = database.Open(opts)
	if err != nil {
		return err
	}
	return nil
}

func (e *Entrypoint) Database() *database.Database {
	return e.db
}

// Run executes fn on a fresh connection.
func (e *Entrypoint) Run(ctx context.Context, fn func(ctx context.Context, conn *database.Connection) error) error {
	if e.db == nil {
		return errors.New("entrypoint is not initialized")
	}
	return fn(ctx, e.db.Connect())
}

// Close closes the database, giving up after the configured timeout.
func (e *Entrypoint) Close() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.Config.CloseTimeout)
	defer cancel()

	if e.db != nil {
		done := make(chan error, 1)
		go func() {
			done <- e.db.Close()
		}()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("failed to close database within %s: %w", e.Config.CloseTimeout, ctx.Err())
		}
	}

	if e.log != nil {
		if err != nil {
			e.log.Errorw("failed to close database", zap.Error(err))
		}

		logErr := e.log.Sync()
		if errors.Is(logErr, syscall.EINVAL) || errors.Is(logErr, syscall.ENOTTY) {
			// stderr and terminals cannot be synced
			logErr = nil
		}
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
