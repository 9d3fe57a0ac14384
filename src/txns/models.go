package txns

import (
	"errors"
	"fmt"
)

type TaggedType[T any] struct{ v T } // this trick forbids casting one enum to another

type Type TaggedType[uint8]

var (
	ReadOnly = Type{0}
	Write    = Type{1}
	// Recovery transactions replay the WAL and bypass local storage.
	Recovery = Type{2}
)

func (t Type) String() string {
	switch t {
	case ReadOnly:
		return "READ_ONLY"
	case Write:
		return "WRITE"
	case Recovery:
		return "RECOVERY"
	default:
		return fmt.Sprintf("Type(%d)", t.v)
	}
}

type Action TaggedType[uint8]

var (
	BeginRead      = Action{0}
	BeginWrite     = Action{1}
	Commit         = Action{2}
	Rollback       = Action{3}
	Checkpoint     = Action{4}
	VacuumDatabase = Action{5}
)

func (a Action) String() string {
	switch a {
	case BeginRead:
		return "BEGIN_READ"
	case BeginWrite:
		return "BEGIN_WRITE"
	case Commit:
		return "COMMIT"
	case Rollback:
		return "ROLLBACK"
	case Checkpoint:
		return "CHECKPOINT"
	case VacuumDatabase:
		return "VACUUM"
	default:
		return fmt.Sprintf("Action(%d)", a.v)
	}
}

var (
	ErrInvalidTransactionState    = errors.New("invalid transaction state")
	ErrWriteTransactionInProgress = errors.New(
		"cannot start a new write transaction while another write transaction is active",
	)
	ErrReadOnlyTransaction = errors.New("cannot execute write operations in a read-only transaction")
	ErrReadOnlyDatabase    = errors.New("cannot start a write transaction in a read-only database")
	ErrTransactionFinished = errors.New("transaction has already been committed or rolled back")
)

// InvalidStateError names the violated transaction rule.
type InvalidStateError struct {
	Action Action
	Msg    string
}

func (e *InvalidStateError) Error() string {
	return e.Msg
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidTransactionState
}

// ValidateAction checks an action against the client transaction slot.
func ValidateAction(action Action, hasActive bool) error {
	switch action {
	case BeginRead, BeginWrite:
		if hasActive {
			return &InvalidStateError{
				Action: action,
				Msg: "Connection already has an active transaction. Cannot start a transaction " +
					"within another one. For nested transactions use savepoints.",
			}
		}
	case Commit, Rollback:
		if !hasActive {
			return &InvalidStateError{
				Action: action,
				Msg:    fmt.Sprintf("No active transaction for %s.", action),
			}
		}
	case Checkpoint, VacuumDatabase:
		if hasActive {
			return &InvalidStateError{
				Action: action,
				Msg:    fmt.Sprintf("Found active transaction for %s.", action),
			}
		}
	}
	return nil
}
