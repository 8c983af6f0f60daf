package state

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/guard-project/guard/state/migrations"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Storage aggregates the broker's tables. Each table creates its own schema
// on construction; migrations then bring older databases up to date.
type Storage struct {
	UsersTable    *UsersTable
	ServersTable  *ServersTable
	MessagesTable *MessagesTable
	DB            *sqlx.DB
}

// NewStorage connects to postgres and prepares all tables. The initial
// connection is the only place in the system with a retry loop: the broker
// often starts before the database container is accepting connections.
func NewStorage(postgresURI string) *Storage {
	const maxAttempts = 5
	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		db, err = sqlx.Connect("postgres", postgresURI)
		if err == nil {
			break
		}
		logger.Error().Err(err).Msgf("failed to connect to postgres (attempt %d/%d)", attempt, maxAttempts)
		if attempt == maxAttempts {
			sentry.CaptureException(err)
			logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
		}
		time.Sleep(5 * time.Second)
	}
	return NewStorageWithDB(db)
}

func NewStorageWithDB(db *sqlx.DB) *Storage {
	s := &Storage{
		UsersTable:    NewUsersTable(db),
		ServersTable:  NewServersTable(db),
		MessagesTable: NewMessagesTable(db),
		DB:            db,
	}
	if err := migrations.Run(db.DB); err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("failed to run storage migrations")
	}
	return s
}

func (s *Storage) Teardown() {
	err := s.DB.Close()
	if err != nil {
		panic("Storage.Teardown: " + err.Error())
	}
}
