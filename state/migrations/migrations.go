package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.go
var embedMigrations embed.FS

// Run applies all pending migrations. Tables are created by their
// constructors before this is called, so migrations only ever reshape
// existing data.
func Run(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
