package migrations

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/storage/postgres"
)

// RunPostgres applies every embedded PostgreSQL migration. Files use
// IF NOT EXISTS so re-running is a no-op.
func RunPostgres(ctx context.Context, pool *postgres.Pool, log logrus.FieldLogger) error {
	files, err := load(postgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if log != nil {
			log.WithField("migration", m.Name).Info("postgres migration applied")
		}
	}
	return nil
}
