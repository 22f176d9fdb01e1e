// Package migrations embeds the PostgreSQL schema applied by ledgerctl migrate.
package migrations

import "embed"

// FS holds the versioned SQL files.
//
//go:embed *.sql
var FS embed.FS
