package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"

	"ibkr-turtle-bot-go/internal/models"
)

// Number of attempts for a write before the error is surfaced.
const setMaxRetries = 3

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected
// to a BadgerDB database at the given path.
func NewBadgerRepository(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

// Get loads the trade record stored under the symbol key.
// A missing key is not an error: it returns (nil, nil).
func (r *badgerRepository) Get(symbol string) (*models.TradeRecord, error) {
	var record models.TradeRecord

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(symbol))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("trade record value is empty in database")
			}
			return json.Unmarshal(val, &record)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // This is the expected "no record found" case.
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Set marshals the record into JSON and overwrites the symbol key in place.
// The write is retried a bounded number of times; the last error is
// surfaced after exhaustion. A failed write never undoes the trade that
// triggered it, so the record may stay stale until the next success.
func (r *badgerRepository) Set(symbol string, record *models.TradeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < setMaxRetries; attempt++ {
		lastErr = r.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(symbol), data)
		})
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return lastErr
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
