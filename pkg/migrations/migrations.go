// Package migrations embeds the SQL schema for the records table.
package migrations

import "embed"

// FS holds the numbered *.up.sql migrations.
//
//go:embed *.up.sql
var FS embed.FS
