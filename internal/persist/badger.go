package persist

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerBackend stores each snapshot as a single value in a BadgerDB
// keyspace. The transactional put gives the same atomicity as the file
// backend's rename. It is the keyed blob store used where a filesystem
// is unavailable.
type BadgerBackend struct {
	db  *badger.DB
	key []byte
}

// BadgerOptions configures the keyed blob store.
type BadgerOptions struct {
	// Dir is the BadgerDB data directory. Required unless InMemory.
	Dir string
	// InMemory runs the store without disk persistence, useful in tests.
	InMemory bool
	// Logger silences or redirects badger output; nil keeps the default.
	Logger badger.Logger
}

// OpenBadger opens (or creates) the blob store.
func OpenBadger(opts BadgerOptions) (*badger.DB, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("persist: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(nil)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("persist: open badger: %w", err)
	}
	return db, nil
}

// NewBadgerBackend wraps an open database and a snapshot key.
func NewBadgerBackend(db *badger.DB, key string) *BadgerBackend {
	return &BadgerBackend{db: db, key: []byte(key)}
}

func (b *BadgerBackend) Read(offset, length int64) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if offset > int64(len(val)) {
				return fmt.Errorf("persist: read offset %d beyond value size %d", offset, len(val))
			}
			end := offset + length
			if end > int64(len(val)) {
				end = int64(len(val))
			}
			out = append([]byte(nil), val[offset:end]...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("persist: key %q not found", b.key)
	}
	if err != nil {
		return nil, fmt.Errorf("persist: badger read: %w", err)
	}
	return out, nil
}

func (b *BadgerBackend) WriteAll(data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("persist: badger write: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Size() (int64, error) {
	var size int64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		size = item.ValueSize()
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persist: badger size: %w", err)
	}
	return size, nil
}

func (b *BadgerBackend) Sync() error {
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("persist: badger sync: %w", err)
	}
	return nil
}
