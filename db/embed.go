// Package db carries the SQL schema migrations so the binary can migrate
// without a checkout of the repository.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
