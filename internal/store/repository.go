package store

import "ibkr-turtle-bot-go/internal/models"

// Repository defines the interface for trade-state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application. Records are partitioned by instrument
// symbol; only one worker ever writes a given key.
type Repository interface {
	// Get loads the last trade record for a symbol.
	// If no record is found, it returns (nil, nil).
	Get(symbol string) (*models.TradeRecord, error)

	// Set overwrites the trade record for a symbol in place.
	Set(symbol string, record *models.TradeRecord) error

	// Close gracefully closes the connection to the database.
	Close() error
}
