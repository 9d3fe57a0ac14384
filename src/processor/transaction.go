package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/txns"
)

var (
	ErrVacuumFailed   = errors.New("VACUUM DATABASE failed")
	ErrVacuumInMemory = errors.New("VACUUM DATABASE is not supported for in-memory databases.")
	ErrVacuumReadOnly = errors.New("VACUUM DATABASE is not supported in read-only mode.")
)

// Maintainer is the database surface used by transaction control and
// VACUUM. Every call except TransactionContext runs outside of any client
// transaction.
type Maintainer interface {
	TransactionContext() *txns.Context
	Checkpoint() error

	IsInMemory() bool
	IsReadOnly() bool
	DatabasePath() string
	FS() afero.Fs

	ExportDatabase(dir string) error
	ImportDatabase(dir string) error
	// TableNames lists rel tables before node tables so that dropping them
	// in order never violates a rel endpoint reference.
	TableNames() ([]string, error)
	// DropTable ignores missing tables.
	DropTable(name string) error
}

// Transaction executes one transaction control action.
type Transaction struct {
	action   txns.Action
	db       Maintainer
	executed bool
}

var _ Operator = &Transaction{}

func NewTransaction(action txns.Action, db Maintainer) *Transaction {
	return &Transaction{action: action, db: db}
}

func (op *Transaction) Action() txns.Action {
	return op.action
}

func (op *Transaction) Init(*ExecutionContext) error {
	op.executed = false
	return nil
}

func (op *Transaction) Next(ctx *ExecutionContext) (bool, error) {
	if op.executed {
		return false, nil
	}
	op.executed = true

	tc := op.db.TransactionContext()
	if err := txns.ValidateAction(op.action, tc.HasActiveTransaction()); err != nil {
		return false, err
	}

	var err error
	switch op.action {
	case txns.BeginRead:
		err = tc.BeginRead()
	case txns.BeginWrite:
		err = tc.BeginWrite()
	case txns.Commit:
		err = tc.Commit()
	case txns.Rollback:
		err = tc.Rollback()
	case txns.Checkpoint:
		err = op.db.Checkpoint()
	case txns.VacuumDatabase:
		err = vacuum(ctx, op.db)
	default:
		err = fmt.Errorf("unknown transaction action %s", op.action)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func vacuumPhaseError(phase string, err error) error {
	return fmt.Errorf("%w during %s: %w", ErrVacuumFailed, phase, err)
}

// VacuumExportDir names a fresh export directory next to the database file.
func VacuumExportDir(dbPath string, now time.Time) string {
	return fmt.Sprintf("%s.__vacuum_export_%d_%s", dbPath, now.UnixMilli(), uuid.NewString()[:8])
}

// vacuum rebuilds the database by exporting it, dropping every table and
// importing the export again. Any failing phase aborts the rest.
func vacuum(ctx *ExecutionContext, db Maintainer) error {
	if db.IsInMemory() {
		return ErrVacuumInMemory
	}
	if db.IsReadOnly() {
		return ErrVacuumReadOnly
	}

	dir := VacuumExportDir(db.DatabasePath(), time.Now())
	defer func() {
		if err := db.FS().RemoveAll(dir); err != nil {
			ctx.Log.Warnw("failed to remove vacuum export", "dir", dir, "error", err)
		}
	}()

	ctx.Log.Infow("vacuum phase", "phase", "initial checkpoint")
	if err := db.Checkpoint(); err != nil {
		return vacuumPhaseError("initial checkpoint", err)
	}

	ctx.Log.Infow("vacuum phase", "phase", "export", "dir", dir)
	if err := db.ExportDatabase(dir); err != nil {
		return vacuumPhaseError("export", err)
	}

	ctx.Log.Infow("vacuum phase", "phase", "collect tables")
	names, err := db.TableNames()
	if err != nil {
		return vacuumPhaseError("collect tables", err)
	}

	for _, name := range names {
		ctx.Log.Infow("vacuum phase", "phase", "drop table", "table", name)
		if err := db.DropTable(name); err != nil {
			return vacuumPhaseError("drop table", err)
		}
	}

	ctx.Log.Infow("vacuum phase", "phase", "checkpoint after dropping objects")
	if err := db.Checkpoint(); err != nil {
		return vacuumPhaseError("checkpoint after dropping objects", err)
	}

	ctx.Log.Infow("vacuum phase", "phase", "import", "dir", dir)
	if err := db.ImportDatabase(dir); err != nil {
		return vacuumPhaseError("import", err)
	}

	ctx.Log.Infow("vacuum phase", "phase", "final checkpoint")
	if err := db.Checkpoint(); err != nil {
		return vacuumPhaseError("final checkpoint", err)
	}
	return nil
}
