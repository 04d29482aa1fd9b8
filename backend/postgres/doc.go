// Package postgres implements the row store and a rate-limit store on
// PostgreSQL through database/sql and the pgx stdlib driver. The schema is
// embedded and applied with Migrate.
package postgres
