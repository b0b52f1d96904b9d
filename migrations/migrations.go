// Package migrations embeds the PostgreSQL schema and development seeds.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var schema embed.FS

//go:embed seeds/*.sql
var seeds embed.FS

// Schema returns the migration files.
func Schema() fs.FS { return schema }

// Seeds returns the seed files.
func Seeds() fs.FS {
	sub, err := fs.Sub(seeds, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
