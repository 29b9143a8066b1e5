// Package session persists per-user verification state in Redis so the bot
// survives restarts mid-conversation.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound indicates no session exists for the user.
var ErrSessionNotFound = errors.New("session not found")

// State is the user's position in the verification conversation.
type State string

const (
	StateWaitingEmail   State = "waiting_email"
	StateWaitingConfirm State = "waiting_confirm"
	StateWaitingCode    State = "waiting_code"
	StateVerified       State = "verified"
	StateBlocked        State = "blocked"
)

// Session is the full conversation state for one user.
type Session struct {
	UserID int64 `json:"user_id"`
	State  State `json:"state"`
	Data   Data  `json:"data"`
}

// Data carries the counters and timestamps the conversation accumulates.
type Data struct {
	// Email is the address awaiting confirmation or already verified.
	Email string `json:"email,omitempty"`
	// Code is the pending confirmation code, 0 when none is outstanding.
	Code int `json:"code,omitempty"`
	// CodeAttempts counts wrong code entries for the pending code.
	CodeAttempts int `json:"code_attempts,omitempty"`
	// CodeSendCount counts code emails sent in the current verification run.
	CodeSendCount int `json:"code_send_count,omitempty"`
	// EmailChangeCount counts address changes within the whole session.
	EmailChangeCount int `json:"email_change_count,omitempty"`
	// DailyChangeCount counts address changes on DailyChangeDate.
	DailyChangeCount int `json:"daily_change_count,omitempty"`
	// DailyChangeDate is the calendar date the daily counter belongs to.
	DailyChangeDate string `json:"daily_change_date,omitempty"`
	// BlockedUntil is an RFC 3339 timestamp while the user is blocked. Kept
	// as a string so a corrupted value can be detected and the session reset.
	BlockedUntil string `json:"blocked_until,omitempty"`
	// LinkTime is when the last invite link was issued.
	LinkTime time.Time `json:"link_time,omitempty"`
	// CodeSentTime is when the last code email went out.
	CodeSentTime time.Time `json:"code_sent_time,omitempty"`
	// Members is the channel member count sampled when the invite was issued.
	Members int `json:"members,omitempty"`
}

// Store persists sessions keyed by Telegram user ID.
type Store interface {
	// Get returns the user's session, or ErrSessionNotFound.
	Get(ctx context.Context, userID int64) (*Session, error)
	// Put stores the session, overwriting any existing one.
	Put(ctx context.Context, session *Session) error
	// Clear removes the user's session.
	Clear(ctx context.Context, userID int64) error
}

// New returns a fresh session at the start of the conversation.
func New(userID int64) *Session {
	return &Session{
		UserID: userID,
		State:  StateWaitingEmail,
	}
}

// Reset drops all conversation progress but keeps the user ID.
func (s *Session) Reset() {
	s.State = StateWaitingEmail
	s.Data = Data{}
}
