// Package migrations embeds the server-side schema the client expects.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
