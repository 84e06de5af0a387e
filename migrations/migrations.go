// Package migrations embeds the SQL schema applied by cmd/migrator and the
// integration test harness.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
