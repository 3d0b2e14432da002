// Package migrations embeds the goose SQL migrations for the scanstore
// schema. Migrations are additive-only: new tenant attributes arrive as
// ADD COLUMN IF NOT EXISTS so a partially migrated schema never blocks
// reads or writes of existing columns.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
