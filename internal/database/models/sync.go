package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/database/dbretry"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SyncModel handles database operations for the batch job audit log.
type SyncModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSync creates a new sync model instance.
func NewSync(db *bun.DB, logger *zap.Logger) *SyncModel {
	return &SyncModel{
		db:     db,
		logger: logger.Named("db_sync"),
	}
}

// Append writes one audit row. Every batch job invocation records exactly one
// outcome, including skips and no-ops.
func (m *SyncModel) Append(ctx context.Context, record *types.SyncRecord) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		if record.SyncDate.IsZero() {
			record.SyncDate = time.Now()
		}

		_, err := m.db.NewInsert().
			Model(record).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to append sync record: %w", err)
		}

		m.logger.Info("Appended sync record",
			zap.String("syncType", record.SyncType),
			zap.String("fileName", record.FileName),
			zap.Int("recordCount", record.RecordCount))

		return nil
	})
}

// LatestImportSince returns the most recent successful import row at or after
// the given time, or nil when none exists.
func (m *SyncModel) LatestImportSince(ctx context.Context, since time.Time) (*types.SyncRecord, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.SyncRecord, error) {
		record := new(types.SyncRecord)

		err := m.db.NewSelect().
			Model(record).
			Where("sync_type = ?", types.SyncTypeImport).
			Where("sync_date >= ?", since).
			Order("sync_date DESC").
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to select latest import: %w", err)
		}

		return record, nil
	})
}

// ImportCountBetween counts successful import rows in [from, to).
func (m *SyncModel) ImportCountBetween(ctx context.Context, from, to time.Time) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		count, err := m.db.NewSelect().
			Model((*types.SyncRecord)(nil)).
			Where("sync_type = ?", types.SyncTypeImport).
			Where("sync_date >= ?", from).
			Where("sync_date < ?", to).
			Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count imports: %w", err)
		}

		return count, nil
	})
}
