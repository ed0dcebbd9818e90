// Package database provides SQLite connection management and schema
// migrations for Hearth Core.
//
// The DB type wraps database/sql with sane SQLite defaults (WAL mode,
// busy timeout, single pooled writer connection) and applies embedded
// migrations at startup.
//
// Migration files follow the naming convention
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql,
// and are embedded via the migrations package. Each migration runs in its
// own transaction and is recorded in schema_migrations.
package database
