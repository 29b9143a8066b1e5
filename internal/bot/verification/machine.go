// Package verification implements the email verification conversation: a
// per-user state machine with attempt counters, daily quotas and time-boxed
// blocks, plus the invite issuance that follows a successful verification.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/session"
	"github.com/pulsegate/pulsegate/internal/mailer"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"go.uber.org/zap"
)

const (
	// dailyEmailChangeLimit caps address changes per calendar date.
	dailyEmailChangeLimit = 2
	// maxCodeSends caps code emails per confirm episode.
	maxCodeSends = 3
	// maxCodeAttempts caps wrong entries per issued code.
	maxCodeAttempts = 3

	emailChangeBlock = 10 * time.Minute
	codeSendBlock    = 30 * time.Minute
	wrongCodeBlock   = 10 * time.Minute

	// codeMin and codeMax bound the generated confirmation codes.
	codeMin = 100000
	codeMax = 999999

	dateLayout = "2006-01-02"
)

// Directory is the user-registry capability the machine needs.
type Directory interface {
	// Register seeds a registry row on first contact. Registering an
	// existing user is a no-op.
	Register(ctx context.Context, user *telegram.User) error
	// Lookup reports the user's approval flags. Both false when the user
	// has no registry row.
	Lookup(ctx context.Context, userID int64) (approved, wasApproved bool, err error)
	// Verify marks the user approved and stores the address.
	Verify(ctx context.Context, userID int64, email string) error
	// UnbanEverywhere lifts bans across all groups the bot can moderate.
	UnbanEverywhere(ctx context.Context, userID int64) error
}

// Machine drives the verification conversation for private chats.
type Machine struct {
	sessions  session.Store
	directory Directory
	mailer    mailer.Sender
	client    telegram.Client
	inviter   *Inviter
	validator *EmailValidator
	channelID int64
	logger    *zap.Logger
}

// NewMachine wires the conversation handler.
func NewMachine(
	sessions session.Store,
	directory Directory,
	sender mailer.Sender,
	client telegram.Client,
	inviter *Inviter,
	validator *EmailValidator,
	channelID int64,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		sessions:  sessions,
		directory: directory,
		mailer:    sender,
		client:    client,
		inviter:   inviter,
		validator: validator,
		channelID: channelID,
		logger:    logger.Named("verification"),
	}
}

// HandleMessage processes one inbound private message. Messages from groups
// and channels are ignored.
func (m *Machine) HandleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.Chat.Type != telegram.ChatTypePrivate || msg.From == nil {
		return nil
	}

	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	sess, err := m.sessions.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return fmt.Errorf("failed to load session: %w", err)
		}

		// First contact: seed the registry row and start the conversation.
		if err := m.directory.Register(ctx, msg.From); err != nil {
			return fmt.Errorf("failed to register user: %w", err)
		}

		sess = session.New(userID)
		if err := m.sessions.Put(ctx, sess); err != nil {
			return err
		}

		if text == "/start" {
			return m.client.SendMessage(ctx, userID, MsgGreeting, nil)
		}
	}

	// A block gates everything, including commands.
	if sess.State == session.StateBlocked {
		return m.handleBlocked(ctx, sess, text)
	}

	switch text {
	case "/start":
		return m.handleStart(ctx, sess)
	case "/check":
		return m.handleChannelAccess(ctx, sess)
	case "/instruction":
		return m.client.SendMessage(ctx, userID, MsgInstruction, nil)
	case BtnGoToChannel:
		return m.handleChannelAccess(ctx, sess)
	}

	switch sess.State {
	case session.StateWaitingEmail:
		return m.handleEmailInput(ctx, sess, text)
	case session.StateWaitingConfirm:
		return m.handleConfirmInput(ctx, sess, text)
	case session.StateWaitingCode:
		return m.handleCodeInput(ctx, sess, text)
	case session.StateVerified:
		return m.client.SendMessage(ctx, userID, MsgAlreadyVerified, &telegram.SendOptions{
			ReplyMarkup: channelKeyboard(),
		})
	default:
		return m.client.SendMessage(ctx, userID, MsgHint, nil)
	}
}

// handleStart re-displays state-appropriate guidance. Registry approval
// short-circuits the session state entirely.
func (m *Machine) handleStart(ctx context.Context, sess *session.Session) error {
	approved, wasApproved, err := m.directory.Lookup(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if approved {
		if sess.State != session.StateVerified {
			sess.State = session.StateVerified
			if err := m.sessions.Put(ctx, sess); err != nil {
				return err
			}
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgAlreadyVerified, &telegram.SendOptions{
			ReplyMarkup: channelKeyboard(),
		})
	}

	if wasApproved {
		sess.State = session.StateWaitingEmail
		if err := m.sessions.Put(ctx, sess); err != nil {
			return err
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgAccessRevoked, &telegram.SendOptions{
			ReplyMarkup: removeKeyboard(),
		})
	}

	switch sess.State {
	case session.StateWaitingEmail:
		// A saved address means the user got as far as the confirm step
		// before; pick the conversation back up there.
		if sess.Data.Email != "" {
			sess.State = session.StateWaitingConfirm
			if err := m.sessions.Put(ctx, sess); err != nil {
				return err
			}

			return m.sendConfirmPrompt(ctx, sess)
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgEmailRequest, nil)
	case session.StateWaitingConfirm:
		return m.sendConfirmPrompt(ctx, sess)
	case session.StateWaitingCode:
		return m.client.SendMessage(ctx, sess.UserID, MsgCodePrompt, nil)
	default:
		return m.client.SendMessage(ctx, sess.UserID, MsgEmailRequest, nil)
	}
}

// handleChannelAccess backs /check and the "Go to channel" button: it
// reports the user's status and re-issues an invite for approved users who
// are not currently in the channel.
func (m *Machine) handleChannelAccess(ctx context.Context, sess *session.Session) error {
	approved, _, err := m.directory.Lookup(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if !approved {
		return m.client.SendMessage(ctx, sess.UserID, MsgNotVerified, nil)
	}

	member, err := m.client.GetChatMember(ctx, m.channelID, sess.UserID)
	if err == nil && telegram.InChat(member.Status) {
		return m.client.SendMessage(ctx, sess.UserID, MsgAlreadyInChannel, nil)
	}

	if err := m.inviter.Issue(ctx, sess); err != nil {
		return err
	}

	return m.sessions.Put(ctx, sess)
}

// handleEmailInput processes text while waiting for an address.
func (m *Machine) handleEmailInput(ctx context.Context, sess *session.Session, text string) error {
	email := Normalize(text)
	if !m.validator.IsValidWorkEmail(email) {
		return m.client.SendMessage(ctx, sess.UserID, MsgEmailInvalid, nil)
	}

	m.rollDailyQuota(sess)

	if sess.Data.DailyChangeCount >= dailyEmailChangeLimit {
		return m.block(ctx, sess, emailChangeBlock, MsgBlockedEmails)
	}

	sess.Data.DailyChangeCount++
	sess.Data.EmailChangeCount++
	sess.Data.Email = email
	sess.State = session.StateWaitingConfirm

	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.sendConfirmPrompt(ctx, sess)
}

// handleConfirmInput processes the send/change choice.
func (m *Machine) handleConfirmInput(ctx context.Context, sess *session.Session, text string) error {
	switch text {
	case BtnSendCode:
		return m.sendCode(ctx, sess)
	case BtnChangeEmail:
		// The quota is checked here but not consumed; only direct address
		// entry increments it.
		m.rollDailyQuota(sess)

		if sess.Data.DailyChangeCount >= dailyEmailChangeLimit {
			return m.block(ctx, sess, emailChangeBlock, MsgBlockedEmails)
		}

		sess.Data.Email = ""
		sess.Data.Code = 0
		sess.State = session.StateWaitingEmail

		if err := m.sessions.Put(ctx, sess); err != nil {
			return err
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgEmailRequest, &telegram.SendOptions{
			ReplyMarkup: removeKeyboard(),
		})
	default:
		return m.client.SendMessage(ctx, sess.UserID, MsgUseButtons, &telegram.SendOptions{
			ReplyMarkup: confirmKeyboard(),
		})
	}
}

// sendCode generates and emails a fresh confirmation code.
func (m *Machine) sendCode(ctx context.Context, sess *session.Session) error {
	if sess.Data.CodeSendCount >= maxCodeSends {
		sess.Data.CodeSendCount = 0
		return m.block(ctx, sess, codeSendBlock, MsgBlockedSends)
	}

	// The attempt consumes quota even when delivery fails.
	sess.Data.CodeSendCount++

	code := codeMin + rand.IntN(codeMax-codeMin+1)

	if err := m.mailer.SendCode(ctx, sess.Data.Email, code); err != nil {
		m.logger.Warn("Failed to send confirmation code",
			zap.Int64("userID", sess.UserID),
			zap.String("email", mailer.MaskEmail(sess.Data.Email)),
			zap.Error(err))

		if err := m.sessions.Put(ctx, sess); err != nil {
			return err
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgCodeSendFail, nil)
	}

	sess.Data.Code = code
	sess.Data.CodeSentTime = time.Now()
	sess.Data.CodeAttempts = 0
	sess.State = session.StateWaitingCode

	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.client.SendMessage(ctx, sess.UserID,
		fmt.Sprintf(MsgCodeSent, sess.Data.Email),
		&telegram.SendOptions{ReplyMarkup: removeKeyboard()})
}

// handleCodeInput matches the submitted code against the pending one.
func (m *Machine) handleCodeInput(ctx context.Context, sess *session.Session, text string) error {
	if sess.Data.Code != 0 && text == strconv.Itoa(sess.Data.Code) {
		return m.completeVerification(ctx, sess)
	}

	sess.Data.CodeAttempts++

	if sess.Data.CodeAttempts >= maxCodeAttempts {
		// The send quota survives the block; only the pending code is gone.
		sess.Data.Code = 0
		sess.Data.CodeAttempts = 0

		return m.block(ctx, sess, wrongCodeBlock, MsgBlockedCodes)
	}

	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.client.SendMessage(ctx, sess.UserID,
		fmt.Sprintf(MsgCodeWrong, maxCodeAttempts-sess.Data.CodeAttempts), nil)
}

// completeVerification commits approval and issues the invite.
func (m *Machine) completeVerification(ctx context.Context, sess *session.Session) error {
	if err := m.directory.Verify(ctx, sess.UserID, sess.Data.Email); err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}

	if err := m.directory.UnbanEverywhere(ctx, sess.UserID); err != nil {
		m.logger.Warn("Failed to lift old bans",
			zap.Int64("userID", sess.UserID),
			zap.Error(err))
	}

	sess.Data.Code = 0
	sess.Data.CodeAttempts = 0
	sess.Data.CodeSendCount = 0
	sess.Data.CodeSentTime = time.Time{}
	sess.State = session.StateVerified

	if err := m.client.SendMessage(ctx, sess.UserID, MsgVerified, &telegram.SendOptions{
		ReplyMarkup: channelKeyboard(),
	}); err != nil {
		m.logger.Warn("Failed to send verified message",
			zap.Int64("userID", sess.UserID),
			zap.Error(err))
	}

	if err := m.inviter.Issue(ctx, sess); err != nil {
		m.logger.Warn("Failed to issue invite",
			zap.Int64("userID", sess.UserID),
			zap.Error(err))
	}

	return m.sessions.Put(ctx, sess)
}

// handleBlocked reports remaining time, lifts an expired block, or resets a
// corrupted session.
func (m *Machine) handleBlocked(ctx context.Context, sess *session.Session, _ string) error {
	until, err := time.Parse(time.RFC3339, sess.Data.BlockedUntil)
	if err != nil {
		// A blocked session without a readable expiry is corrupt. Start over.
		sess.Reset()

		if err := m.sessions.Put(ctx, sess); err != nil {
			return err
		}

		return m.client.SendMessage(ctx, sess.UserID, MsgEmailRequest, &telegram.SendOptions{
			ReplyMarkup: removeKeyboard(),
		})
	}

	now := time.Now()
	if now.Before(until) {
		remaining := int(until.Sub(now).Minutes()) + 1
		return m.client.SendMessage(ctx, sess.UserID,
			fmt.Sprintf(MsgBlockedWait, remaining), nil)
	}

	// Only the block itself is lifted. The daily change counter stays
	// spent until the calendar date rolls over.
	sess.Data.BlockedUntil = ""
	sess.Data.Code = 0
	sess.Data.CodeAttempts = 0
	sess.State = session.StateWaitingEmail

	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.client.SendMessage(ctx, sess.UserID, MsgBlockExpired, &telegram.SendOptions{
		ReplyMarkup: removeKeyboard(),
	})
}

// block moves the session into the blocked state for the given duration.
func (m *Machine) block(
	ctx context.Context, sess *session.Session, d time.Duration, message string,
) error {
	sess.Data.BlockedUntil = time.Now().Add(d).Format(time.RFC3339)
	sess.State = session.StateBlocked

	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.client.SendMessage(ctx, sess.UserID, message, &telegram.SendOptions{
		ReplyMarkup: removeKeyboard(),
	})
}

// sendConfirmPrompt shows the confirm keyboard for the saved address.
func (m *Machine) sendConfirmPrompt(ctx context.Context, sess *session.Session) error {
	return m.client.SendMessage(ctx, sess.UserID,
		fmt.Sprintf(MsgConfirmPrompt, sess.Data.Email),
		&telegram.SendOptions{ReplyMarkup: confirmKeyboard()})
}

// rollDailyQuota resets the daily change counter when the calendar date has
// moved on since the last change.
func (m *Machine) rollDailyQuota(sess *session.Session) {
	today := time.Now().Format(dateLayout)
	if sess.Data.DailyChangeDate != today {
		sess.Data.DailyChangeDate = today
		sess.Data.DailyChangeCount = 0
	}
}
