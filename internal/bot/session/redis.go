package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// keyPrefix namespaces session keys within the Redis database.
const keyPrefix = "verify:"

// RedisStore keeps sessions in Redis. Sessions have no TTL; they live until
// the conversation clears them or an operator flushes the database.
type RedisStore struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewRedisStore creates a session store backed by the given Redis client.
func NewRedisStore(client rueidis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("session"),
	}
}

func sessionKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

// Get returns the user's session, or ErrSessionNotFound.
func (s *RedisStore) Get(ctx context.Context, userID int64) (*Session, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(sessionKey(userID)).Build())

	raw, err := resp.AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := sonic.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &session, nil
}

// Put stores the session, overwriting any existing one.
func (s *RedisStore) Put(ctx context.Context, session *Session) error {
	raw, err := sonic.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	cmd := s.client.B().Set().Key(sessionKey(session.UserID)).Value(string(raw)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Debug("Stored session",
		zap.Int64("userID", session.UserID),
		zap.String("state", string(session.State)))

	return nil
}

// Clear removes the user's session.
func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	cmd := s.client.B().Del().Key(sessionKey(userID)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	return nil
}
