// Package store is the durable job and history layer. Every multi-statement
// mutation runs in one transaction through dbopen.RunTx, and the due-job
// claim is a single UPDATE ... RETURNING statement.
package store

import (
	"database/sql"
	"errors"

	"github.com/hazyhaar/pagewatch/idgen"
)

// ErrStore matches every persistence failure returned by this package.
var ErrStore = errors.New("store: persistence failure")

// Error wraps a database failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStore) true for every *Error.
func (e *Error) Is(target error) bool { return target == ErrStore }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Store wraps the pagewatch database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the job and attempt ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates a Store on a database where ApplySchema has run.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s
}
