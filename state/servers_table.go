package state

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type Server struct {
	ServerID int64  `db:"server_id"`
	Name     string `db:"name"`
}

// ServersTable remembers every guild seen in a raw membership list. Rows are
// written before reconciliation, so presence here does not imply the gateway
// can reach the guild.
type ServersTable struct {
	db *sqlx.DB
}

func NewServersTable(db *sqlx.DB) *ServersTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS guard_servers (
		server_id BIGINT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL
	);
	`)
	return &ServersTable{db}
}

func (t *ServersTable) Upsert(txn *sqlx.Tx, serverID int64, name string) error {
	_, err := txn.Exec(`
		INSERT INTO guard_servers(server_id, name) VALUES($1, $2)
		ON CONFLICT (server_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name = '' THEN guard_servers.name ELSE EXCLUDED.name END`,
		serverID, name,
	)
	return err
}

// Select returns the server row. Returns nil with no error if the server is
// unknown.
func (t *ServersTable) Select(serverID int64) (*Server, error) {
	var row Server
	err := t.db.Get(&row, `SELECT server_id, name FROM guard_servers WHERE server_id=$1`, serverID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
