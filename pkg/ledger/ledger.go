package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

var (
	// ErrNotFound is returned for an unknown request or package id
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when appending a second entry for a key
	ErrDuplicateKey = errors.New("an entry with the same request key already exists")
	// ErrDuplicateID is returned when appending an id that is already recorded
	ErrDuplicateID = errors.New("an entry with the same id already exists")
	// ErrInvalidTransition is returned for a state change that moves backwards
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrLedgerCorruption is matched by every CorruptionError
	ErrLedgerCorruption = errors.New("ledger corrupted")
)

// CorruptionError reports a ledger row or header that cannot be trusted.
// Line is 1-based; 0 means the problem is not tied to a line.
type CorruptionError struct {
	Line   int
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("ledger corrupted: %s", e.Reason)
	}
	return fmt.Sprintf("ledger corrupted at line %d: %s", e.Line, e.Reason)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrLedgerCorruption
}

// State is the lifecycle state of a submitted request
type State string

const (
	StateSubmitted State = "submitted"
	StateReady     State = "ready"
	StateRetrieved State = "retrieved"
)

// legacyStates maps state names written by earlier tooling
var legacyStates = map[string]State{
	"solicitado":          StateSubmitted,
	"listo_para_descarga": StateReady,
	"descargado":          StateRetrieved,
}

// ParseState parses a stored state name
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateSubmitted, StateReady, StateRetrieved:
		return st, nil
	}
	if st, ok := legacyStates[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}

func (s State) rank() int {
	switch s {
	case StateSubmitted:
		return 1
	case StateReady:
		return 2
	case StateRetrieved:
		return 3
	default:
		return 0
	}
}

// CheckTransition validates a move from s to next. A move to the same
// state is allowed and is a no-op for stores.
func (s State) CheckTransition(next State) error {
	if next.rank() == 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	if next.rank() < s.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// Key is the duplicate-suppression identity of a request
type Key struct {
	Type         string
	DateFrom     string
	DateTo       string
	DocumentType string
	IssuerID     string
}

// KeyFor builds the key of params
func KeyFor(params message.RequestParameters) Key {
	return Key{
		Type:         params.Type,
		DateFrom:     params.DateFromString(),
		DateTo:       params.DateToString(),
		DocumentType: params.DocumentType,
		IssuerID:     params.IssuerID,
	}
}

func (k Key) String() string {
	return strings.Join([]string{k.Type, k.DateFrom, k.DateTo, k.DocumentType, k.IssuerID}, "/")
}

// Entry is one recorded request
type Entry struct {
	ID          string
	Params      message.RequestParameters
	SubmittedAt time.Time
	State       State
	// CompletedAt is zero until the request leaves the submitted state
	CompletedAt time.Time
}

// Key returns the entry's duplicate-suppression key
func (e *Entry) Key() Key {
	return KeyFor(e.Params)
}

// Store records request lifecycle. Implementations assume a single writer.
type Store interface {
	// Lookup returns the id of the first entry with key
	Lookup(ctx context.Context, key Key) (id string, found bool, err error)
	// Append records a new entry
	Append(ctx context.Context, entry *Entry) error
	// Update moves entry id to state, recording completed when non-zero
	Update(ctx context.Context, id string, state State, completed time.Time) error
	// Get returns entry id
	Get(ctx context.Context, id string) (*Entry, error)
}
