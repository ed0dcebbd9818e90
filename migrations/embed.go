// Package migrations embeds SQL migration files into the binary so Hearth
// can run schema migrations without the files present on disk.
package migrations

import (
	"embed"

	"github.com/hearthd/hearth-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
