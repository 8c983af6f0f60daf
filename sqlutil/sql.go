package sqlutil

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WithTransaction runs fn inside a transaction. The transaction commits
// when fn returns nil and rolls back when fn returns an error or panics;
// a panic is converted into the returned error rather than re-raised.
func WithTransaction(db *sqlx.DB, fn func(txn *sqlx.Tx) error) (err error) {
	txn, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil && err == nil {
			err = fmt.Errorf("transaction panicked: %v", rec)
		}
		if err != nil {
			txn.Rollback()
			return
		}
		if commitErr := txn.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(txn)
	return
}
