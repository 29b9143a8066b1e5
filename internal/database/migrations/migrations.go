// Package migrations registers the database schema migrations.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds all registered migrations for the migrator.
var Migrations = migrate.NewMigrations()
