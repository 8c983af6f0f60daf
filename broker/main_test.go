package broker

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/guard-project/guard/state"
	"github.com/guard-project/guard/testutils"
)

var postgresConnectionString = "user=xxxxx dbname=xxxxx sslmode=disable"

func TestMain(m *testing.M) {
	postgresConnectionString = testutils.PrepareDBConnectionString("guard_broker_test")
	exitCode := m.Run()
	os.Exit(exitCode)
}

func connectStorage(t *testing.T) *state.Storage {
	db, err := sqlx.Open("postgres", postgresConnectionString)
	if err != nil {
		t.Fatalf("failed to open postgres conn: %s", err)
	}
	storage := state.NewStorageWithDB(db)
	t.Cleanup(storage.Teardown)
	return storage
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("assertNoError: %v", err)
	}
}

func assertEqual(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: got %v want %v", msg, got, want)
	}
}
