// Package migrations embeds the SQL applied by the built-in runner. Files
// under public/ build the shared schema; files under tenant/ are the
// partition template applied to every tenant schema.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed public/*.sql tenant/*.sql
var files embed.FS

// Public returns the shared-schema migrations.
func Public() fs.FS {
	sub, err := fs.Sub(files, "public")
	if err != nil {
		panic(err)
	}
	return sub
}

// Tenant returns the partition template.
func Tenant() fs.FS {
	sub, err := fs.Sub(files, "tenant")
	if err != nil {
		panic(err)
	}
	return sub
}
