package migrations

import (
	"context"
	"fmt"

	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.User)(nil),
			(*types.Group)(nil),
			(*types.SyncRecord)(nil),
		}

		for _, model := range models {
			if _, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		// The audit log is queried by type and date to gate job re-runs.
		if _, err := db.NewCreateIndex().
			Model((*types.SyncRecord)(nil)).
			Index("sync_history_type_date_idx").
			IfNotExists().
			Column("sync_type", "sync_date").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create sync history index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		tables := []any{
			(*types.SyncRecord)(nil),
			(*types.Group)(nil),
			(*types.User)(nil),
		}

		for _, table := range tables {
			if _, err := db.NewDropTable().
				Model(table).
				IfExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table for %T: %w", table, err)
			}
		}

		return nil
	})
}
