package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/roster"
	"go.uber.org/zap"
)

// DefaultImportLookback bounds how old the last successful import may be for
// the integrity check.
const DefaultImportLookback = 12 * time.Hour

// Cleaner bans every unapproved, not-yet-banned user from every group where
// the bot holds ban rights.
type Cleaner struct {
	registry  Registry
	groups    Groups
	syncLog   SyncLog
	messenger Messenger
	dirs      roster.Dirs
	validator *verification.EmailValidator
	lookback  time.Duration
	logger    *zap.Logger
}

// NewCleaner wires the enforcement job. A non-positive lookback falls back
// to the default window.
func NewCleaner(
	registry Registry,
	groups Groups,
	syncLog SyncLog,
	messenger Messenger,
	dirs roster.Dirs,
	validator *verification.EmailValidator,
	lookback time.Duration,
	logger *zap.Logger,
) *Cleaner {
	if lookback <= 0 {
		lookback = DefaultImportLookback
	}

	return &Cleaner{
		registry:  registry,
		groups:    groups,
		syncLog:   syncLog,
		messenger: messenger,
		dirs:      dirs,
		validator: validator,
		lookback:  lookback,
		logger:    logger.Named("cleaner"),
	}
}

// Run executes one enforcement sweep. A panic anywhere in the sweep is
// recovered and logged so the scheduler survives.
func (c *Cleaner) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic during enforcement sweep", zap.Any("panic", r))
			err = fmt.Errorf("enforcement sweep panicked: %v", r)
		}
	}()

	ok, err := c.integrityCheck(ctx)
	if err != nil || !ok {
		return err
	}

	ok, err = c.skipGate(ctx)
	if err != nil || !ok {
		return err
	}

	return c.enforce(ctx)
}

// integrityCheck re-parses the archived roster behind the most recent
// successful import and aborts when the registry is missing any of its ids.
// Returns false when the sweep must not proceed.
func (c *Cleaner) integrityCheck(ctx context.Context) (bool, error) {
	latest, err := c.syncLog.LatestImportSince(ctx, time.Now().Add(-c.lookback))
	if err != nil {
		return false, err
	}

	if latest == nil {
		// The skip gate reports the missing import.
		return true, nil
	}

	ids, err := roster.ParseFile(c.dirs.ArchivedFile(latest.FileName))
	if err != nil {
		return false, c.abort(ctx, latest.FileName,
			fmt.Sprintf("archived roster unreadable: %v", err))
	}

	missing, err := c.registry.MissingIDs(ctx, ids)
	if err != nil {
		return false, err
	}

	if len(missing) > 0 {
		return false, c.abort(ctx, latest.FileName,
			fmt.Sprintf("roster ids missing from registry: %v", missing))
	}

	return true, nil
}

// skipGate requires an import for the previous calendar day and an empty
// export directory. Returns false when the sweep must not proceed.
func (c *Cleaner) skipGate(ctx context.Context) (bool, error) {
	now := time.Now()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfYesterday := startOfToday.AddDate(0, 0, -1)

	count, err := c.syncLog.ImportCountBetween(ctx, startOfYesterday, startOfToday)
	if err != nil {
		return false, err
	}

	if count == 0 {
		return false, c.skip(ctx, "no import for the previous day")
	}

	empty, err := c.dirs.IsExportEmpty()
	if err != nil {
		return false, err
	}

	if !empty {
		return false, c.skip(ctx, "export directory not empty")
	}

	return true, nil
}

// enforce bans the targets in every eligible group, gives newly managed
// groups a full sweep and appends the audit row.
func (c *Cleaner) enforce(ctx context.Context) error {
	eligible, err := c.groups.Eligible(ctx)
	if err != nil {
		return err
	}

	targets, err := c.registry.UnapprovedUnbanned(ctx)
	if err != nil {
		return err
	}

	var banned []UserState

	for _, user := range targets {
		if c.validator.IsExempt(user.Email) {
			continue
		}

		c.banInGroups(ctx, user.ID, eligible)

		// Partial per-group failures do not keep the flag unset; enforcement
		// is fire-and-forget per group.
		banned = append(banned, user)
	}

	bannedIDs := make([]int64, 0, len(banned))
	for _, user := range banned {
		bannedIDs = append(bannedIDs, user.ID)
	}

	if err := c.registry.MarkBanned(ctx, bannedIDs); err != nil {
		return err
	}

	swept, err := c.sweepNewGroups(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("Enforcement sweep complete",
		zap.Int("banned", len(banned)),
		zap.Int("sweptGroups", swept))

	return c.syncLog.Append(ctx, &types.SyncRecord{
		SyncType:    types.SyncTypeCleaner,
		RecordCount: len(banned),
		Comment: fmt.Sprintf("banned=%s sweptGroups=%d",
			maskPairs(banned), swept),
	})
}

// sweepNewGroups bans every unapproved user, banned or not, in groups that
// never had a full sweep, then clears their new flag.
func (c *Cleaner) sweepNewGroups(ctx context.Context) (int, error) {
	newGroups, err := c.groups.NewEligible(ctx)
	if err != nil {
		return 0, err
	}

	if len(newGroups) == 0 {
		return 0, nil
	}

	unapproved, err := c.registry.Unapproved(ctx)
	if err != nil {
		return 0, err
	}

	for _, chatID := range newGroups {
		for _, user := range unapproved {
			if c.validator.IsExempt(user.Email) {
				continue
			}

			if err := c.messenger.BanChatMember(ctx, chatID, user.ID); err != nil {
				c.logger.Warn("Failed to ban user during full sweep",
					zap.Int64("chatID", chatID),
					zap.Int64("userID", user.ID),
					zap.Error(err))
			}
		}

		if err := c.groups.ClearNew(ctx, chatID); err != nil {
			return 0, err
		}
	}

	return len(newGroups), nil
}

func (c *Cleaner) banInGroups(ctx context.Context, userID int64, chatIDs []int64) {
	for _, chatID := range chatIDs {
		if err := c.messenger.BanChatMember(ctx, chatID, userID); err != nil {
			c.logger.Warn("Failed to ban user in group",
				zap.Int64("chatID", chatID),
				zap.Int64("userID", userID),
				zap.Error(err))
		}
	}
}

func (c *Cleaner) abort(ctx context.Context, fileName, reason string) error {
	c.logger.Error("Aborting enforcement sweep", zap.String("reason", reason))

	return c.syncLog.Append(ctx, &types.SyncRecord{
		SyncType: types.SyncTypeCleanerAbort,
		FileName: fileName,
		Comment:  reason,
	})
}

func (c *Cleaner) skip(ctx context.Context, reason string) error {
	c.logger.Info("Skipping enforcement sweep", zap.String("reason", reason))

	return c.syncLog.Append(ctx, &types.SyncRecord{
		SyncType: types.SyncTypeCleanerSkip,
		Comment:  reason,
	})
}
