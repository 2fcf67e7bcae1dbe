// Package migrations embeds the schema so the binary can migrate without a
// migrations directory on disk.
package migrations

import "embed"

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
