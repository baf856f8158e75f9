// Package migrations ships the schema as embedded SQL so the binaries can
// bootstrap any database they are pointed at, independent of the working
// directory they start from.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
