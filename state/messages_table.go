package state

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// DefaultMessageContent is what a message reads as before the user has saved
// anything, and what reset restores.
const DefaultMessageContent = "Default message"

type Message struct {
	UserID   int64  `db:"user_id"`
	ServerID int64  `db:"server_id"`
	Content  string `db:"content"`
}

// MessagesTable stores one message string per (user, server) pair with
// upsert semantics.
type MessagesTable struct {
	db *sqlx.DB
}

func NewMessagesTable(db *sqlx.DB) *MessagesTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS guard_messages (
		user_id BIGINT NOT NULL,
		server_id BIGINT NOT NULL,
		content TEXT NOT NULL DEFAULT 'Default message',
		UNIQUE(user_id, server_id)
	);
	`)
	return &MessagesTable{db}
}

// Upsert writes the content for this (user, server) pair, creating the row
// if it does not exist. The whole row is replaced atomically so concurrent
// writers leave one submitted content intact, never a mix.
func (t *MessagesTable) Upsert(userID, serverID int64, content string) error {
	_, err := t.db.Exec(`
		INSERT INTO guard_messages(user_id, server_id, content) VALUES($1, $2, $3)
		ON CONFLICT (user_id, server_id) DO UPDATE SET content = EXCLUDED.content`,
		userID, serverID, content,
	)
	return err
}

// Select returns the stored message. Returns nil with no error if no row
// exists for this pair.
func (t *MessagesTable) Select(userID, serverID int64) (*Message, error) {
	var row Message
	err := t.db.Get(
		&row,
		`SELECT user_id, server_id, content FROM guard_messages WHERE user_id=$1 AND server_id=$2`,
		userID, serverID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Reset restores the default content for an existing row. Returns found=false
// without writing anything if no row exists for this pair.
func (t *MessagesTable) Reset(userID, serverID int64) (found bool, err error) {
	result, err := t.db.Exec(
		`UPDATE guard_messages SET content=$3 WHERE user_id=$1 AND server_id=$2`,
		userID, serverID, DefaultMessageContent,
	)
	if err != nil {
		return false, err
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return ra > 0, nil
}
