package testutils

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
)

// PrepareDBConnectionString builds the Postgres connection string the DB
// tests use. CI sets the POSTGRES_* vars; on a developer machine the
// current OS user is assumed to own a local postgres install, and a throwaway
// database named wantDBName is dropped and recreated for the run.
func PrepareDBConnectionString(wantDBName string) string {
	dbUser := os.Getenv("POSTGRES_USER")
	if dbUser == "" {
		u, err := user.Current()
		if err != nil {
			fmt.Println("cannot determine current user:", err)
			os.Exit(2)
		}
		dbUser = u.Username
	}
	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		dbName = recreateLocalDB(wantDBName)
	}
	connStr := fmt.Sprintf("user=%s dbname=%s sslmode=disable", dbUser, dbName)
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		connStr += " password=" + password
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		connStr += " host=" + host
	}
	return connStr
}

func recreateLocalDB(dbName string) string {
	fmt.Println("Note: DB tests need a local postgres the current user can administer")
	// ignore the drop failing; the database may simply not exist yet
	drop := exec.Command("dropdb", "-f", dbName)
	drop.Stdout = os.Stdout
	drop.Stderr = os.Stderr
	drop.Run()
	create := exec.Command("createdb", dbName)
	create.Stdout = os.Stdout
	create.Stderr = os.Stderr
	if err := create.Run(); err != nil {
		fmt.Println("createdb failed:", err)
		os.Exit(2)
	}
	return dbName
}
