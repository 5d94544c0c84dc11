// Package migrations embeds the goose SQL migration files describing the
// schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
