// Package postgres provides the PostgreSQL store backend built on
// pgx/v5 with pgxpool connection pooling and embedded SQL migrations.
package postgres
