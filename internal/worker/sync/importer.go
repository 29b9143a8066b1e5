package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/mailer"
	"github.com/pulsegate/pulsegate/internal/roster"
	"go.uber.org/zap"
)

// DefaultMaxRosterDelta rejects rosters whose symmetric size change exceeds
// half of the previous roster.
const DefaultMaxRosterDelta = 0.5

// Importer reconciles registry approval state against the daily roster file.
type Importer struct {
	registry  Registry
	syncLog   SyncLog
	messenger Messenger
	dirs      roster.Dirs
	validator *verification.EmailValidator
	maxDelta  float64
	logger    *zap.Logger
}

// NewImporter wires the reconciliation job. A non-positive maxDelta falls
// back to the default threshold.
func NewImporter(
	registry Registry,
	syncLog SyncLog,
	messenger Messenger,
	dirs roster.Dirs,
	validator *verification.EmailValidator,
	maxDelta float64,
	logger *zap.Logger,
) *Importer {
	if maxDelta <= 0 {
		maxDelta = DefaultMaxRosterDelta
	}

	return &Importer{
		registry:  registry,
		syncLog:   syncLog,
		messenger: messenger,
		dirs:      dirs,
		validator: validator,
		maxDelta:  maxDelta,
		logger:    logger.Named("importer"),
	}
}

// Run executes one reconciliation cycle. Gate failures write an audit row
// and return nil; only infrastructure errors propagate.
func (i *Importer) Run(ctx context.Context) error {
	now := time.Now()
	fileName := roster.ImportFileName(now)

	// Gate 1: un-collected exports mean the external roster is stale.
	empty, err := i.dirs.IsExportEmpty()
	if err != nil {
		return err
	}

	if !empty {
		if path, ok, _ := i.dirs.FindImportFile(now); ok {
			if _, err := i.dirs.Skip(path); err != nil {
				i.logger.Warn("Failed to set roster file aside", zap.Error(err))
			}
		}

		return i.skip(ctx, fileName, "export directory not empty")
	}

	// Gate 2: the roster file for today must exist.
	path, ok, err := i.dirs.FindImportFile(now)
	if err != nil {
		return err
	}

	if !ok {
		return i.skip(ctx, fileName, "no roster file for today")
	}

	// Gate 3: it must parse into a non-empty id set.
	ids, err := roster.ParseFile(path)
	if err != nil || len(ids) == 0 {
		if _, archiveErr := i.dirs.Archive(path); archiveErr != nil {
			i.logger.Warn("Failed to archive roster file", zap.Error(archiveErr))
		}

		comment := "roster file is empty"
		if err != nil {
			comment = fmt.Sprintf("roster file unreadable: %v", err)
		}

		return i.syncLog.Append(ctx, &types.SyncRecord{
			SyncType: types.SyncTypeImportFailed,
			FileName: fileName,
			Comment:  comment,
		})
	}

	// Gate 4: the size change versus the previous roster must stay within
	// bounds. A change of exactly the threshold passes.
	if prevPath, ok, err := i.dirs.NewestArchived(); err == nil && ok {
		if prev, err := roster.ParseFile(prevPath); err == nil && len(prev) > 0 {
			added, removed := roster.Delta(ids, prev)
			ratio := float64(added+removed) / float64(len(prev))

			if ratio > i.maxDelta {
				if _, err := i.dirs.Skip(path); err != nil {
					i.logger.Warn("Failed to set roster file aside", zap.Error(err))
				}

				return i.skip(ctx, fileName, fmt.Sprintf(
					"roster delta %.2f exceeds %.2f (added=%d removed=%d previous=%d)",
					ratio, i.maxDelta, added, removed, len(prev)))
			}
		}
	}

	changed, restored, err := i.reconcile(ctx, ids)
	if err != nil {
		return err
	}

	i.notifyChanged(ctx, changed)

	if _, err := i.dirs.Archive(path); err != nil {
		i.logger.Warn("Failed to archive roster file", zap.Error(err))
	}

	i.logger.Info("Reconciliation complete",
		zap.Int("rosterSize", len(ids)),
		zap.Int("changed", len(changed)),
		zap.Int("restored", len(restored)))

	return i.syncLog.Append(ctx, &types.SyncRecord{
		SyncType:    types.SyncTypeImport,
		FileName:    fileName,
		RecordCount: len(ids),
		Comment:     fmt.Sprintf("changed=%v restored=%v", changed, restored),
	})
}

// reconcile applies the roster to the registry and returns the revoked and
// restored user id sets.
func (i *Importer) reconcile(ctx context.Context, ids []int64) (changed, restored []int64, err error) {
	present := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}

	candidates, err := i.registry.ApprovedSynced(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, user := range candidates {
		if _, ok := present[user.ID]; ok {
			continue
		}

		if i.validator.IsExempt(user.Email) {
			continue
		}

		changed = append(changed, user.ID)
	}

	if err := i.registry.RevokeApproval(ctx, changed); err != nil {
		return nil, nil, err
	}

	restorable, err := i.registry.Restorable(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, user := range restorable {
		if _, ok := present[user.ID]; ok {
			restored = append(restored, user.ID)
		}
	}

	if err := i.registry.RestoreApproval(ctx, restored); err != nil {
		return nil, nil, err
	}

	return changed, restored, nil
}

// notifyChanged informs newly revoked users once. Delivery failures are
// logged and not retried within the run.
func (i *Importer) notifyChanged(ctx context.Context, changed []int64) {
	unnotified, err := i.registry.UnnotifiedAmong(ctx, changed)
	if err != nil {
		i.logger.Error("Failed to select unnotified users", zap.Error(err))
		return
	}

	var delivered []int64

	for _, userID := range unnotified {
		if err := i.messenger.SendMessage(ctx, userID, MsgAccessReset, nil); err != nil {
			i.logger.Warn("Failed to deliver reset notice",
				zap.Int64("userID", userID),
				zap.Error(err))

			continue
		}

		delivered = append(delivered, userID)
	}

	if err := i.registry.MarkNotified(ctx, delivered); err != nil {
		i.logger.Error("Failed to mark users notified", zap.Error(err))
	}
}

func (i *Importer) skip(ctx context.Context, fileName, reason string) error {
	i.logger.Info("Skipping reconciliation", zap.String("reason", reason))

	return i.syncLog.Append(ctx, &types.SyncRecord{
		SyncType: types.SyncTypeImportSkipped,
		FileName: fileName,
		Comment:  reason,
	})
}

// maskPairs renders (id, masked email) pairs for audit comments.
func maskPairs(users []UserState) string {
	out := ""

	for idx, user := range users {
		if idx > 0 {
			out += " "
		}

		out += fmt.Sprintf("(%d,%s)", user.ID, mailer.MaskEmail(user.Email))
	}

	return out
}
