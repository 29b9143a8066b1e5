package sync_test

import (
	"context"
	"sort"
	"time"

	"github.com/pulsegate/pulsegate/internal/database/types"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"github.com/pulsegate/pulsegate/internal/worker/sync"
)

// fakeUser mirrors a registry row including the flags the jobs never see
// directly.
type fakeUser struct {
	sync.UserState
	Synced   bool
	Notified bool
}

// fakeRegistry emulates the registry's query and mutation semantics in
// memory.
type fakeRegistry struct {
	users map[int64]*fakeUser
}

func newFakeRegistry(users ...*fakeUser) *fakeRegistry {
	r := &fakeRegistry{users: make(map[int64]*fakeUser)}
	for _, user := range users {
		r.users[user.ID] = user
	}

	return r
}

func (r *fakeRegistry) selectWhere(match func(*fakeUser) bool) []sync.UserState {
	var out []sync.UserState

	for _, user := range r.users {
		if match(user) {
			out = append(out, user.UserState)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *fakeRegistry) ApprovedSynced(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return u.Approve && u.Synced }), nil
}

func (r *fakeRegistry) Restorable(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return !u.Approve || u.Banned }), nil
}

func (r *fakeRegistry) UnapprovedUnbanned(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return !u.Approve && !u.Banned }), nil
}

func (r *fakeRegistry) Unapproved(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return !u.Approve }), nil
}

func (r *fakeRegistry) ApprovedUnsynced(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return u.Approve && !u.Synced }), nil
}

func (r *fakeRegistry) WithEmail(context.Context) ([]sync.UserState, error) {
	return r.selectWhere(func(u *fakeUser) bool { return u.Email != "" }), nil
}

func (r *fakeRegistry) RevokeApproval(_ context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			u.Approve = false
			u.WasApproved = true
			u.Banned = false
		}
	}

	return nil
}

func (r *fakeRegistry) RestoreApproval(_ context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			u.Approve = true
			u.Synced = true
			u.Banned = false
			u.Notified = false
		}
	}

	return nil
}

func (r *fakeRegistry) MarkBanned(_ context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			u.Banned = true
		}
	}

	return nil
}

func (r *fakeRegistry) MarkSynced(_ context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			u.Synced = true
		}
	}

	return nil
}

func (r *fakeRegistry) UnnotifiedAmong(_ context.Context, userIDs []int64) ([]int64, error) {
	var out []int64

	for _, id := range userIDs {
		if u, ok := r.users[id]; ok && !u.Notified {
			out = append(out, id)
		}
	}

	return out, nil
}

func (r *fakeRegistry) MarkNotified(_ context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if u, ok := r.users[id]; ok {
			u.Notified = true
		}
	}

	return nil
}

func (r *fakeRegistry) MissingIDs(_ context.Context, userIDs []int64) ([]int64, error) {
	var missing []int64

	for _, id := range userIDs {
		if _, ok := r.users[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing, nil
}

func (r *fakeRegistry) SetApprove(_ context.Context, userID int64, approve bool) error {
	if u, ok := r.users[userID]; ok {
		u.Approve = approve
	}

	return nil
}

func (r *fakeRegistry) ApproveAndUnban(_ context.Context, userID int64) error {
	if u, ok := r.users[userID]; ok {
		u.Approve = true
		u.Banned = false
	}

	return nil
}

func (r *fakeRegistry) ClearBanned(_ context.Context, userID int64) error {
	if u, ok := r.users[userID]; ok {
		u.Banned = false
	}

	return nil
}

// fakeGroups serves fixed group sets and records cleared flags.
type fakeGroups struct {
	eligible    []int64
	newEligible []int64
	cleared     []int64
}

func (g *fakeGroups) Eligible(context.Context) ([]int64, error) {
	return g.eligible, nil
}

func (g *fakeGroups) NewEligible(context.Context) ([]int64, error) {
	return g.newEligible, nil
}

func (g *fakeGroups) ClearNew(_ context.Context, chatID int64) error {
	g.cleared = append(g.cleared, chatID)

	var remaining []int64

	for _, id := range g.newEligible {
		if id != chatID {
			remaining = append(remaining, id)
		}
	}

	g.newEligible = remaining

	return nil
}

type banCall struct {
	chatID int64
	userID int64
}

type sentMessage struct {
	chatID int64
	text   string
}

// fakeMessenger records outbound calls and can inject failures.
type fakeMessenger struct {
	sent      []sentMessage
	bans      []banCall
	unbans    []banCall
	invites   int
	sendErr   error
	banErr    error
	inviteErr error
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, _ *telegram.SendOptions) error {
	if m.sendErr != nil {
		return m.sendErr
	}

	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})

	return nil
}

func (m *fakeMessenger) BanChatMember(_ context.Context, chatID, userID int64) error {
	m.bans = append(m.bans, banCall{chatID: chatID, userID: userID})
	return m.banErr
}

func (m *fakeMessenger) UnbanChatMember(_ context.Context, chatID, userID int64) error {
	m.unbans = append(m.unbans, banCall{chatID: chatID, userID: userID})
	return nil
}

func (m *fakeMessenger) CreateChatInviteLink(context.Context, int64, time.Duration, int) (string, error) {
	if m.inviteErr != nil {
		return "", m.inviteErr
	}

	m.invites++

	return "https://t.me/+restored", nil
}

// fakeSyncLog records appended rows and serves canned import lookups.
type fakeSyncLog struct {
	records      []*types.SyncRecord
	latestImport *types.SyncRecord
	importCount  int
}

func (l *fakeSyncLog) Append(_ context.Context, record *types.SyncRecord) error {
	if record.SyncDate.IsZero() {
		record.SyncDate = time.Now()
	}

	l.records = append(l.records, record)

	if record.SyncType == types.SyncTypeImport {
		l.latestImport = record
		l.importCount++
	}

	return nil
}

func (l *fakeSyncLog) LatestImportSince(_ context.Context, _ time.Time) (*types.SyncRecord, error) {
	return l.latestImport, nil
}

func (l *fakeSyncLog) ImportCountBetween(context.Context, time.Time, time.Time) (int, error) {
	return l.importCount, nil
}

func (l *fakeSyncLog) last() *types.SyncRecord {
	if len(l.records) == 0 {
		return nil
	}

	return l.records[len(l.records)-1]
}
