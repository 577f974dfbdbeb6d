package shared

import (
	"errors"
	"strings"
)

// ErrUnknownIsolationMode indicates a mode string outside the closed set.
// Parsing is a caller-side validation concern; the engine only ever sees
// values of the closed enumeration.
var ErrUnknownIsolationMode = errors.New("unknown isolation mode")

// IsolationMode defines the read guarantee a logical transaction runs under.
// Modes are ordered from weakest to strongest; each is a superset of the
// guarantees of the previous one.
type IsolationMode string

const (
	IsolationReadUncommitted IsolationMode = "READ_UNCOMMITTED"
	IsolationReadCommitted   IsolationMode = "READ_COMMITTED"
	IsolationRepeatableRead  IsolationMode = "REPEATABLE_READ"
	IsolationSerializable    IsolationMode = "SERIALIZABLE"
)

// ParseIsolationMode maps a caller-supplied string onto the closed mode set
func ParseIsolationMode(s string) (IsolationMode, error) {
	switch IsolationMode(strings.ToUpper(strings.TrimSpace(s))) {
	case IsolationReadUncommitted:
		return IsolationReadUncommitted, nil
	case IsolationReadCommitted:
		return IsolationReadCommitted, nil
	case IsolationRepeatableRead:
		return IsolationRepeatableRead, nil
	case IsolationSerializable:
		return IsolationSerializable, nil
	default:
		return "", ErrUnknownIsolationMode
	}
}

// Valid reports whether the mode belongs to the closed enumeration
func (m IsolationMode) Valid() bool {
	_, err := ParseIsolationMode(string(m))
	return err == nil
}

// UsesSnapshot reports whether readers at this mode pin values at first read
func (m IsolationMode) UsesSnapshot() bool {
	return m == IsolationRepeatableRead || m == IsolationSerializable
}

// Anomaly classifies the read anomaly a mode deliberately leaves possible
type Anomaly string

const (
	AnomalyNone              Anomaly = "NONE"
	AnomalyDirtyRead         Anomaly = "DIRTY_READ"
	AnomalyNonRepeatableRead Anomaly = "NON_REPEATABLE_READ"
	AnomalyPhantomRead       Anomaly = "PHANTOM_READ"
)

// PermittedAnomaly returns the weakest anomaly class the mode still allows.
// READ_UNCOMMITTED permits dirty reads, READ_COMMITTED non-repeatable reads,
// REPEATABLE_READ phantoms (row-stable but not set-stable), SERIALIZABLE none.
func (m IsolationMode) PermittedAnomaly() Anomaly {
	switch m {
	case IsolationReadUncommitted:
		return AnomalyDirtyRead
	case IsolationReadCommitted:
		return AnomalyNonRepeatableRead
	case IsolationRepeatableRead:
		return AnomalyPhantomRead
	default:
		return AnomalyNone
	}
}
