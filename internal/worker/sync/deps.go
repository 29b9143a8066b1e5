// Package sync implements the batch jobs that reconcile registry state with
// the HR roster and turn it into actual group membership: importer, cleaner,
// export job and the exclusion sweep.
package sync

import (
	"context"
	"time"

	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
)

// MsgAccessReset is sent once to each user revoked by a roster update.
const MsgAccessReset = "Your access was reset after a roster update. " +
	"If you believe this is a mistake, use /start to verify again."

// MsgAccessRestored is sent when the exclusion sweep restores an exempted
// user.
const MsgAccessRestored = "Your access has been restored. " +
	"Use the invite link below to rejoin the channel."

// UserState is a registry row as the jobs see it: id, decrypted email and
// the access flags.
type UserState struct {
	ID          int64
	Email       string
	Approve     bool
	WasApproved bool
	Banned      bool
}

// Registry is the user-registry capability the jobs depend on. Emails are
// decrypted on the way out and never leave the adapter encrypted.
type Registry interface {
	// ApprovedSynced returns revocation candidates: approved and already
	// reported to HR.
	ApprovedSynced(ctx context.Context) ([]UserState, error)
	// Restorable returns users a roster appearance can restore.
	Restorable(ctx context.Context) ([]UserState, error)
	// UnapprovedUnbanned returns enforcement targets.
	UnapprovedUnbanned(ctx context.Context) ([]UserState, error)
	// Unapproved returns every user without access, banned or not.
	Unapproved(ctx context.Context) ([]UserState, error)
	// ApprovedUnsynced returns users awaiting their first export.
	ApprovedUnsynced(ctx context.Context) ([]UserState, error)
	// WithEmail returns every user with an address on record.
	WithEmail(ctx context.Context) ([]UserState, error)

	RevokeApproval(ctx context.Context, userIDs []int64) error
	RestoreApproval(ctx context.Context, userIDs []int64) error
	MarkBanned(ctx context.Context, userIDs []int64) error
	MarkSynced(ctx context.Context, userIDs []int64) error
	UnnotifiedAmong(ctx context.Context, userIDs []int64) ([]int64, error)
	MarkNotified(ctx context.Context, userIDs []int64) error
	MissingIDs(ctx context.Context, userIDs []int64) ([]int64, error)
	SetApprove(ctx context.Context, userID int64, approve bool) error
	ApproveAndUnban(ctx context.Context, userID int64) error
	ClearBanned(ctx context.Context, userID int64) error
}

// Groups is the group-registry capability the jobs depend on.
type Groups interface {
	// Eligible returns the chat ids where the bot may ban and unban.
	Eligible(ctx context.Context) ([]int64, error)
	// NewEligible returns eligible chats that never had a full sweep.
	NewEligible(ctx context.Context) ([]int64, error)
	// ClearNew marks a chat as fully swept.
	ClearNew(ctx context.Context, chatID int64) error
}

// Messenger is the outbound messaging capability the jobs depend on. A
// telegram.Client satisfies it directly.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) error
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	CreateChatInviteLink(ctx context.Context, chatID int64, expire time.Duration, memberLimit int) (string, error)
}

// SyncLog is the audit log capability. The sync model satisfies it directly.
type SyncLog interface {
	Append(ctx context.Context, record *types.SyncRecord) error
	LatestImportSince(ctx context.Context, since time.Time) (*types.SyncRecord, error)
	ImportCountBetween(ctx context.Context, from, to time.Time) (int, error)
}
