// Package migrations embeds the SQL schema of the booking service.
package migrations

import "embed"

// FS holds the *.up.sql files applied by database.Migrate
//
//go:embed *.sql
var FS embed.FS
