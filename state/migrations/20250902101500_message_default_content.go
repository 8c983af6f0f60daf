package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

func init() {
	goose.AddMigrationContext(upMessageDefaultContent, downMessageDefaultContent)
}

// Early deployments allowed message rows to be saved with empty content,
// which the reset endpoint then treated as present-but-blank. Rewrite those
// rows to the default so reads and resets agree.
func upMessageDefaultContent(ctx context.Context, tx *sql.Tx) error {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE guard_messages SET content = 'Default message' WHERE content = ''`,
	)
	if err != nil {
		return fmt.Errorf("failed to backfill empty message content: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("couldn't count backfilled message rows")
		return nil
	}
	if ra > 0 {
		log.Info().Int64("rows", ra).Msg("backfilled empty message content")
	}
	return nil
}

func downMessageDefaultContent(ctx context.Context, tx *sql.Tx) error {
	// no way to know which rows were originally empty
	return nil
}
