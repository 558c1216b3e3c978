// Package db implements the opening and graceful closing of database connections.
package db

import (
	"errors"
	"fmt"

	"github.com/tarancss/stakewatch/lib/store"
	"github.com/tarancss/stakewatch/lib/store/memory"
	"github.com/tarancss/stakewatch/lib/store/mongo"
	"github.com/tarancss/stakewatch/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	MEMORY   string = "memory"
)

var ErrUnknownDB = errors.New("unknown database type")

// New returns a new database connection according to the options (database type). The name is only used by MongoDB,
// PostgreSQL takes the database from the connection string.
func New(options, connection, name string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection, name)
	case POSTGRES:
		return postgres.New(connection)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDB, options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
