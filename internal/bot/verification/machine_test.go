package verification_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/session"
	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUserID    int64 = 42
	testChannelID int64 = -1001
)

// fakeDirectory records registry mutations in memory.
type fakeDirectory struct {
	registered  map[int64]bool
	approved    map[int64]bool
	wasApproved map[int64]bool
	verifiedTo  map[int64]string
	unbanned    []int64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		registered:  make(map[int64]bool),
		approved:    make(map[int64]bool),
		wasApproved: make(map[int64]bool),
		verifiedTo:  make(map[int64]string),
	}
}

func (d *fakeDirectory) Register(_ context.Context, user *telegram.User) error {
	d.registered[user.ID] = true
	return nil
}

func (d *fakeDirectory) Lookup(_ context.Context, userID int64) (bool, bool, error) {
	return d.approved[userID], d.wasApproved[userID], nil
}

func (d *fakeDirectory) Verify(_ context.Context, userID int64, email string) error {
	d.approved[userID] = true
	d.wasApproved[userID] = true
	d.verifiedTo[userID] = email

	return nil
}

func (d *fakeDirectory) UnbanEverywhere(_ context.Context, userID int64) error {
	d.unbanned = append(d.unbanned, userID)
	return nil
}

// fakeMailer records sent codes and can be made to fail.
type fakeMailer struct {
	codes []int
	err   error
}

func (m *fakeMailer) SendCode(_ context.Context, _ string, code int) error {
	if m.err != nil {
		return m.err
	}

	m.codes = append(m.codes, code)

	return nil
}

// fakeClient records outbound messages and invite link requests.
type fakeClient struct {
	messages     []string
	inviteCalls  int
	inviteErr    error
	memberStatus string
}

func (c *fakeClient) GetUpdates(context.Context, int64, time.Duration) ([]telegram.Update, error) {
	return nil, nil
}

func (c *fakeClient) SendMessage(_ context.Context, _ int64, text string, _ *telegram.SendOptions) error {
	c.messages = append(c.messages, text)
	return nil
}

func (c *fakeClient) BanChatMember(context.Context, int64, int64) error   { return nil }
func (c *fakeClient) UnbanChatMember(context.Context, int64, int64) error { return nil }

func (c *fakeClient) CreateChatInviteLink(context.Context, int64, time.Duration, int) (string, error) {
	c.inviteCalls++
	if c.inviteErr != nil {
		return "", c.inviteErr
	}

	return fmt.Sprintf("https://t.me/+link%d", c.inviteCalls), nil
}

func (c *fakeClient) GetChatMember(_ context.Context, _, userID int64) (*telegram.ChatMember, error) {
	status := c.memberStatus
	if status == "" {
		status = telegram.MemberStatusLeft
	}

	return &telegram.ChatMember{Status: status, User: &telegram.User{ID: userID}}, nil
}

func (c *fakeClient) GetChatMemberCount(context.Context, int64) (int, error) { return 10, nil }

func (c *fakeClient) GetMe(context.Context) (*telegram.User, error) {
	return &telegram.User{ID: 1, Username: "testbot"}, nil
}

func (c *fakeClient) lastMessage() string {
	if len(c.messages) == 0 {
		return ""
	}

	return c.messages[len(c.messages)-1]
}

type testEnv struct {
	machine   *verification.Machine
	sessions  *session.MemoryStore
	directory *fakeDirectory
	mailer    *fakeMailer
	client    *fakeClient
}

func setupMachine(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		sessions:  session.NewMemoryStore(),
		directory: newFakeDirectory(),
		mailer:    &fakeMailer{},
		client:    &fakeClient{},
	}

	logger := zap.NewNop()
	validator := verification.NewEmailValidator("corp.example", []string{"vip@other.example"})
	inviter := verification.NewInviter(env.client, testChannelID, logger)

	env.machine = verification.NewMachine(
		env.sessions, env.directory, env.mailer, env.client,
		inviter, validator, testChannelID, logger,
	)

	return env
}

func (e *testEnv) send(t *testing.T, text string) {
	t.Helper()

	msg := &telegram.Message{
		From: &telegram.User{ID: testUserID, Username: "alice"},
		Chat: telegram.Chat{ID: testUserID, Type: telegram.ChatTypePrivate},
		Text: text,
	}

	require.NoError(t, e.machine.HandleMessage(t.Context(), msg))
}

func (e *testEnv) session(t *testing.T) *session.Session {
	t.Helper()

	sess, err := e.sessions.Get(t.Context(), testUserID)
	require.NoError(t, err)

	return sess
}

func TestFirstContactStart(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	assert.True(t, env.directory.registered[testUserID])
	assert.Equal(t, verification.MsgGreeting, env.client.lastMessage())
	assert.Equal(t, session.StateWaitingEmail, env.session(t).State)
}

func TestValidEmailMovesToConfirm(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@corp.example")

	sess := env.session(t)
	assert.Equal(t, session.StateWaitingConfirm, sess.State)
	assert.Equal(t, "alice@corp.example", sess.Data.Email)
}

func TestInvalidEmailRejected(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@elsewhere.example")

	assert.Equal(t, verification.MsgEmailInvalid, env.client.lastMessage())
	assert.Equal(t, session.StateWaitingEmail, env.session(t).State)
}

func TestDailyEmailChangeQuotaOnInput(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	sess := env.session(t)
	sess.Data.DailyChangeCount = 2
	sess.Data.DailyChangeDate = time.Now().Format("2006-01-02")
	require.NoError(t, env.sessions.Put(t.Context(), sess))

	// Third address of the day exceeds the quota of two changes.
	env.send(t, "alice3@corp.example")

	got := env.session(t)
	assert.Equal(t, session.StateBlocked, got.State)
	assert.Equal(t, verification.MsgBlockedEmails, env.client.lastMessage())

	// The rejected address was not consumed.
	assert.Empty(t, got.Data.Email)

	until, err := time.Parse(time.RFC3339, got.Data.BlockedUntil)
	require.NoError(t, err)
	assert.InDelta(t, 10, time.Until(until).Minutes(), 1)
}

func TestChangeEmailButtonChecksQuota(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@corp.example")
	env.send(t, verification.BtnChangeEmail) // quota 1, allowed
	env.send(t, "alice2@corp.example")

	// Quota is at 2 now; the button checks it without incrementing.
	env.send(t, verification.BtnChangeEmail)

	sess := env.session(t)
	assert.Equal(t, session.StateBlocked, sess.State)
	assert.Equal(t, verification.MsgBlockedEmails, env.client.lastMessage())

	// Blocked before the saved address was cleared.
	assert.Equal(t, "alice2@corp.example", sess.Data.Email)
	assert.Equal(t, 2, sess.Data.DailyChangeCount)
}

func TestSendCodeAndVerify(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@corp.example")
	env.send(t, verification.BtnSendCode)

	require.Len(t, env.mailer.codes, 1)
	code := env.mailer.codes[0]
	assert.GreaterOrEqual(t, code, 100000)
	assert.LessOrEqual(t, code, 999999)
	assert.Equal(t, session.StateWaitingCode, env.session(t).State)

	env.send(t, strconv.Itoa(code))

	sess := env.session(t)
	assert.Equal(t, session.StateVerified, sess.State)
	assert.True(t, env.directory.approved[testUserID])
	assert.True(t, env.directory.wasApproved[testUserID])
	assert.Equal(t, "alice@corp.example", env.directory.verifiedTo[testUserID])
	assert.Contains(t, env.directory.unbanned, testUserID)

	// Verification issues an invite link.
	assert.Equal(t, 1, env.client.inviteCalls)
	assert.Zero(t, sess.Data.Code)
}

func TestThreeWrongCodesBlock(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@corp.example")
	env.send(t, verification.BtnSendCode)

	env.send(t, "000001")
	assert.Equal(t, fmt.Sprintf(verification.MsgCodeWrong, 2), env.client.lastMessage())
	env.send(t, "000002")
	assert.Equal(t, fmt.Sprintf(verification.MsgCodeWrong, 1), env.client.lastMessage())
	env.send(t, "000003")

	sess := env.session(t)
	assert.Equal(t, session.StateBlocked, sess.State)
	assert.Equal(t, verification.MsgBlockedCodes, env.client.lastMessage())

	// The pending code and attempts are gone; the send quota survives.
	assert.Zero(t, sess.Data.Code)
	assert.Zero(t, sess.Data.CodeAttempts)
	assert.Equal(t, 1, sess.Data.CodeSendCount)

	until, err := time.Parse(time.RFC3339, sess.Data.BlockedUntil)
	require.NoError(t, err)
	assert.InDelta(t, 10, time.Until(until).Minutes(), 1)
}

func TestFourthCodeSendBlocks(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")
	env.send(t, "alice@corp.example")

	// Each send moves to waiting_code; nudge back to the confirm step the way
	// a user re-requesting a code would arrive there.
	for range 3 {
		env.send(t, verification.BtnSendCode)
		sess := env.session(t)
		sess.State = session.StateWaitingConfirm
		require.NoError(t, env.sessions.Put(t.Context(), sess))
	}

	require.Len(t, env.mailer.codes, 3)

	env.send(t, verification.BtnSendCode)

	sess := env.session(t)
	assert.Equal(t, session.StateBlocked, sess.State)
	assert.Equal(t, verification.MsgBlockedSends, env.client.lastMessage())
	assert.Zero(t, sess.Data.CodeSendCount)

	until, err := time.Parse(time.RFC3339, sess.Data.BlockedUntil)
	require.NoError(t, err)
	assert.InDelta(t, 30, time.Until(until).Minutes(), 1)
}

func TestMailerFailureKeepsState(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.mailer.err = errors.New("smtp down")

	env.send(t, "/start")
	env.send(t, "alice@corp.example")
	env.send(t, verification.BtnSendCode)

	sess := env.session(t)
	assert.Equal(t, session.StateWaitingConfirm, sess.State)
	assert.Equal(t, verification.MsgCodeSendFail, env.client.lastMessage())

	// The failed attempt still consumed send quota.
	assert.Equal(t, 1, sess.Data.CodeSendCount)
	assert.Zero(t, sess.Data.Code)
}

func TestBlockedReportsRemainingMinutes(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	sess := env.session(t)
	sess.State = session.StateBlocked
	sess.Data.BlockedUntil = time.Now().Add(5 * time.Minute).Format(time.RFC3339)
	require.NoError(t, env.sessions.Put(t.Context(), sess))

	env.send(t, "hello")

	assert.Equal(t, fmt.Sprintf(verification.MsgBlockedWait, 5), env.client.lastMessage())
	assert.Equal(t, session.StateBlocked, env.session(t).State)
}

func TestExpiredBlockClears(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	sess := env.session(t)
	sess.State = session.StateBlocked
	sess.Data.BlockedUntil = time.Now().Add(-time.Minute).Format(time.RFC3339)
	sess.Data.Code = 123456
	sess.Data.CodeAttempts = 2
	sess.Data.DailyChangeCount = 2
	sess.Data.DailyChangeDate = time.Now().Format("2006-01-02")
	require.NoError(t, env.sessions.Put(t.Context(), sess))

	env.send(t, "hello")

	got := env.session(t)
	assert.Equal(t, session.StateWaitingEmail, got.State)
	assert.Empty(t, got.Data.BlockedUntil)
	assert.Zero(t, got.Data.Code)
	assert.Zero(t, got.Data.CodeAttempts)
	assert.Equal(t, verification.MsgBlockExpired, env.client.lastMessage())

	// The daily change counter is not part of the block; it stays spent
	// until midnight.
	assert.Equal(t, 2, got.Data.DailyChangeCount)
}

func TestEmailQuotaSurvivesBlockExpiry(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	sess := env.session(t)
	sess.State = session.StateBlocked
	sess.Data.BlockedUntil = time.Now().Add(-time.Minute).Format(time.RFC3339)
	sess.Data.DailyChangeCount = 2
	sess.Data.DailyChangeDate = time.Now().Format("2006-01-02")
	require.NoError(t, env.sessions.Put(t.Context(), sess))

	// First message lifts the expired block.
	env.send(t, "hello")
	require.Equal(t, session.StateWaitingEmail, env.session(t).State)

	// Waiting out the block does not buy a fresh quota: the next address
	// the same day blocks again.
	env.send(t, "alice4@corp.example")

	got := env.session(t)
	assert.Equal(t, session.StateBlocked, got.State)
	assert.Empty(t, got.Data.Email)
	assert.Equal(t, verification.MsgBlockedEmails, env.client.lastMessage())
}

func TestMalformedBlockResetsSession(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	env.send(t, "/start")

	sess := env.session(t)
	sess.State = session.StateBlocked
	sess.Data.BlockedUntil = "not-a-timestamp"
	sess.Data.Email = "alice@corp.example"
	require.NoError(t, env.sessions.Put(t.Context(), sess))

	env.send(t, "hello")

	got := env.session(t)
	assert.Equal(t, session.StateWaitingEmail, got.State)
	assert.Empty(t, got.Data.Email)
	assert.Empty(t, got.Data.BlockedUntil)
}

func TestStartShortCircuitsWhenApproved(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.approved[testUserID] = true

	env.send(t, "/start")
	env.send(t, "/start")

	assert.Equal(t, verification.MsgAlreadyVerified, env.client.lastMessage())
	assert.Equal(t, session.StateVerified, env.session(t).State)
}

func TestStartAfterRevocation(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.wasApproved[testUserID] = true

	env.send(t, "/start")
	env.send(t, "/start")

	assert.Equal(t, verification.MsgAccessRevoked, env.client.lastMessage())
	assert.Equal(t, session.StateWaitingEmail, env.session(t).State)
}

func TestGoToChannelForApprovedAbsentUser(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.approved[testUserID] = true
	env.client.memberStatus = telegram.MemberStatusLeft

	env.send(t, "/start")
	env.send(t, verification.BtnGoToChannel)

	assert.Equal(t, 1, env.client.inviteCalls)
	assert.Equal(t, verification.MsgInviteLink, env.client.lastMessage())
}

func TestCheckForMemberSendsNoInvite(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.approved[testUserID] = true
	env.client.memberStatus = telegram.MemberStatusMember

	env.send(t, "/start")
	env.send(t, "/check")

	assert.Zero(t, env.client.inviteCalls)
	assert.Equal(t, verification.MsgAlreadyInChannel, env.client.lastMessage())
}

func TestInviteCooldown(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.approved[testUserID] = true
	env.client.memberStatus = telegram.MemberStatusLeft

	env.send(t, "/start")
	env.send(t, verification.BtnGoToChannel)
	require.Equal(t, 1, env.client.inviteCalls)

	// A second request within the cooldown window gets a notice, not a link.
	env.send(t, verification.BtnGoToChannel)

	assert.Equal(t, 1, env.client.inviteCalls)
	assert.Equal(t, verification.MsgInviteAlreadySent, env.client.lastMessage())
}

func TestInviteCooldownStampedOnFailure(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)
	env.directory.approved[testUserID] = true
	env.client.memberStatus = telegram.MemberStatusLeft
	env.client.inviteErr = errors.New("api down")

	env.send(t, "/start")
	env.send(t, verification.BtnGoToChannel)

	assert.Equal(t, verification.MsgInviteFail, env.client.lastMessage())

	// The failed attempt still started the cooldown window.
	env.send(t, verification.BtnGoToChannel)
	assert.Equal(t, verification.MsgInviteAlreadySent, env.client.lastMessage())
}

func TestGroupMessagesIgnored(t *testing.T) {
	t.Parallel()
	env := setupMachine(t)

	msg := &telegram.Message{
		From: &telegram.User{ID: testUserID},
		Chat: telegram.Chat{ID: -100, Type: telegram.ChatTypeSupergroup},
		Text: "/start",
	}
	require.NoError(t, env.machine.HandleMessage(t.Context(), msg))

	assert.Empty(t, env.client.messages)
	assert.False(t, env.directory.registered[testUserID])
}
