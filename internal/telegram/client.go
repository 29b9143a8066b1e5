// Package telegram defines the messaging capability the verification core
// depends on, plus a thin HTTP adapter for the Bot API. The core only ever
// sees the Client interface so tests run against fakes.
package telegram

import (
	"context"
	"time"
)

// Client is the messaging capability surface used by the bot and the batch
// jobs. Every call is an I/O boundary; implementations return explicit errors
// and never panic.
type Client interface {
	// GetUpdates long-polls for updates after the given offset.
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	// SendMessage delivers a text message to a chat.
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error
	// BanChatMember removes a user from a chat and prevents rejoining.
	BanChatMember(ctx context.Context, chatID, userID int64) error
	// UnbanChatMember lifts a ban so the user may rejoin via an invite.
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	// CreateChatInviteLink issues a time-boxed invite link with a member limit.
	CreateChatInviteLink(ctx context.Context, chatID int64, expire time.Duration, memberLimit int) (string, error)
	// GetChatMember reports a user's membership in a chat.
	GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error)
	// GetChatMemberCount returns the number of members in a chat.
	GetChatMemberCount(ctx context.Context, chatID int64) (int, error)
	// GetMe returns the bot's own account.
	GetMe(ctx context.Context) (*User, error)
}

// InChat reports whether a membership status counts as being in the chat.
func InChat(status string) bool {
	switch status {
	case MemberStatusMember, MemberStatusAdministrator, MemberStatusCreator:
		return true
	default:
		return false
	}
}
