package state

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type User struct {
	UserID   int64  `db:"user_id"`
	Username string `db:"username"`
}

// UsersTable remembers every provider identity which has completed a login.
type UsersTable struct {
	db *sqlx.DB
}

func NewUsersTable(db *sqlx.DB) *UsersTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS guard_users (
		user_id BIGINT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL
	);
	`)
	return &UsersTable{db}
}

// Upsert inserts the user or refreshes their name. An empty username keeps
// whatever name we saw previously.
func (t *UsersTable) Upsert(txn *sqlx.Tx, userID int64, username string) error {
	_, err := txn.Exec(`
		INSERT INTO guard_users(user_id, username) VALUES($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username = '' THEN guard_users.username ELSE EXCLUDED.username END`,
		userID, username,
	)
	return err
}

// Select returns the user row. Returns nil with no error if the user is
// unknown.
func (t *UsersTable) Select(userID int64) (*User, error) {
	var row User
	err := t.db.Get(&row, `SELECT user_id, username FROM guard_users WHERE user_id=$1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
