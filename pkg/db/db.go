// Package db persists the messenger's accounts in badger.
//
// SECURITY: The calling code is responsible for serializing access. Each Update is atomic on its own, but
// check-then-write sequences that span several calls are only safe under the engine's lock.
package db

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrMarshal   = errors.New("db: marshal")
	ErrUnmarshal = errors.New("db: unmarshal")
)

// Operation represents a database operation type
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type DBError struct {
	Op  Operation
	Key []byte
	Err error
}

func (e *DBError) Unwrap() error {
	return e.Err
}

func (e *DBError) Error() string {
	return fmt.Sprintf("messenger database: %s key: %s error: %v", e.Op, e.Key, e.Err)
}

type Database struct {
	db *badger.DB
}

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Database{db: db}, nil
}

// OpenInMemory opens a database that is discarded on Close. Used by tests and dry runs.
func OpenInMemory() (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return &Database{db: db}, nil
}

func OpenDb(logger *zap.Logger, dataDir *string) *Database {
	dbPath := path.Join(*dataDir, "db")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		logger.Fatal("failed to create database directory", zap.Error(err))
	}
	db, err := Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	return db
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Conn returns a pointer to the underlying database connection.
func (d *Database) Conn() *badger.DB {
	return d.db
}

// Txn gives typed access to the records inside a single badger transaction.
type Txn struct {
	txn *badger.Txn
}

// View runs fn in a read-only transaction.
func (d *Database) View(fn func(*Txn) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
}

// Update runs fn in a read-write transaction. Nothing fn wrote is committed if it returns an error.
func (d *Database) Update(fn func(*Txn) error) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
}

type record interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

func (t *Txn) get(key []byte, r record) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return &DBError{Op: OpRead, Key: key, Err: err}
	}

	// Records may keep references to the value, so it has to outlive the transaction.
	b, err := item.ValueCopy(nil)
	if err != nil {
		return &DBError{Op: OpRead, Key: key, Err: err}
	}
	if err := r.UnmarshalBinary(b); err != nil {
		return &DBError{Op: OpRead, Key: key, Err: fmt.Errorf("%w: %v", ErrUnmarshal, err)}
	}
	return nil
}

func (t *Txn) set(key []byte, r record) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: fmt.Errorf("%w: %v", ErrMarshal, err)}
	}
	if err := t.txn.Set(key, b); err != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: err}
	}
	return nil
}
