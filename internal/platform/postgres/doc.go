// Package postgres provides PostgreSQL implementations of the storage
// interfaces defined in internal/store. It opens connections through the pgx
// database/sql driver, embeds the schema migrations applied with goose, and
// maps driver errors onto store sentinels.
package postgres
