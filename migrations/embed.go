// Package migrations embeds the vault schema. Versions only ever add
// tables and columns; each vault implementation version brings its own
// migration.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
