// Package migrations embeds the SQL schema and seed files so deployments
// need no migration files on disk.
package migrations

import "embed"

//go:embed *.sql seeds/*.sql
var FS embed.FS
