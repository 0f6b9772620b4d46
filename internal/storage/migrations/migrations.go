// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in the order they are applied.
var Files = []string{
	"001_initial.up.sql",
	"002_content_blocks.up.sql",
}
