package sync

import (
	"context"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/roster"
	"go.uber.org/zap"
)

// Exporter writes newly approved users to a roster export file for the HR
// system to collect.
type Exporter struct {
	registry  Registry
	syncLog   SyncLog
	dirs      roster.Dirs
	validator *verification.EmailValidator
	logger    *zap.Logger
}

// NewExporter wires the export job.
func NewExporter(
	registry Registry,
	syncLog SyncLog,
	dirs roster.Dirs,
	validator *verification.EmailValidator,
	logger *zap.Logger,
) *Exporter {
	return &Exporter{
		registry:  registry,
		syncLog:   syncLog,
		dirs:      dirs,
		validator: validator,
		logger:    logger.Named("exporter"),
	}
}

// Run writes one export file covering every approved user not yet reported
// to HR. Exemption-listed addresses are never reported. With nothing to
// export the job logs and returns without an audit row.
func (e *Exporter) Run(ctx context.Context) error {
	users, err := e.registry.ApprovedUnsynced(ctx)
	if err != nil {
		return err
	}

	rows := make([]roster.ExportRow, 0, len(users))
	ids := make([]int64, 0, len(users))

	for _, user := range users {
		if e.validator.IsExempt(user.Email) {
			continue
		}

		rows = append(rows, roster.ExportRow{UserID: user.ID, Email: user.Email})
		ids = append(ids, user.ID)
	}

	if len(rows) == 0 {
		e.logger.Info("Nothing to export")
		return nil
	}

	name := roster.ExportFileName(time.Now())

	if _, err := e.dirs.WriteExport(name, rows); err != nil {
		return err
	}

	if err := e.registry.MarkSynced(ctx, ids); err != nil {
		return err
	}

	e.logger.Info("Export written",
		zap.String("file", name),
		zap.Int("users", len(rows)))

	return e.syncLog.Append(ctx, &types.SyncRecord{
		SyncType:    types.SyncTypeExport,
		FileName:    name,
		RecordCount: len(rows),
	})
}
