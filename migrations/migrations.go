// Package migrations embeds the SQL schema so binaries can migrate without a source checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
