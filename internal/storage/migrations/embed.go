// Package migrations embeds the SQL schema of the SQLite storage backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
