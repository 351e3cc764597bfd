// Package migrations embeds the goose SQL migration files for the document
// collections described in SPEC_FULL.md §2.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
