// Package migrations embeds the per-dialect SQL schema migrations for the
// metadata store.
package migrations

import "embed"

// SQLite holds migrations for the sqlite dialect.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// MySQL holds migrations for the mysql dialect.
//
//go:embed mysql/*.sql
var MySQL embed.FS
