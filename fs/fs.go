// Package appfs embeds the assets shipped inside the binaries:
// database migrations, email & page templates, AI prompts and static files.
package appfs

import "embed"

//go:embed migrations templates prompts static
var FS embed.FS

const (
	PostgresMigrationsDir = "migrations/postgres"
	SQLiteMigrationsDir   = "migrations/sqlite"

	PromptsFile       = "prompts/prompts.yaml"
	SchemasDir        = "prompts/schemas"
	PageTemplatesDir  = "templates/pages"
	EmailTemplatesDir = "templates/email"
	StaticDir         = "static"
)
