// Package migrations embeds the versioned SQL migrations for fieldsync.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
