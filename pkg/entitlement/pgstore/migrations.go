package pgstore

import "embed"

// Migrations holds the goose migration files for the entitlement schema.
// Pass it to pg.MigrateFS at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations containing the SQL files.
const MigrationsDir = "migrations"
