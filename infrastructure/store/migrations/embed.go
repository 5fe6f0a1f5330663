// Package migrations embeds the rating ledger schema.
package migrations

import "embed"

// FS holds the ordered ledger migrations.
//
//go:embed *.sql
var FS embed.FS
