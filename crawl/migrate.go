package crawl

import (
	"database/sql"

	"github.com/hazyhaar/pagewatch/crawl/internal/store"
	"github.com/hazyhaar/pagewatch/observability"
)

// Migrate applies the jobs, attempts and events schema. It is idempotent and
// fits dbopen.WithMigration.
func Migrate(db *sql.DB) error {
	if err := store.ApplySchema(db); err != nil {
		return err
	}
	return observability.Init(db)
}
