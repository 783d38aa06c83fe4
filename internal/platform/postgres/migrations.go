package postgres

import "embed"

// Migrations holds the goose SQL migrations for every table this service owns.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"

// MigrationTableName is the name of the table used by goose to track migrations.
const MigrationTableName = "schema_migrations"
