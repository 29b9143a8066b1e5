package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrAPIRequest wraps a non-ok response from the Bot API.
var ErrAPIRequest = errors.New("telegram api request failed")

const defaultBaseURL = "https://api.telegram.org"

// BotAPI is the HTTP implementation of Client.
type BotAPI struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// NewBotAPI creates a Bot API client for the given token.
func NewBotAPI(token string, logger *zap.Logger) *BotAPI {
	return &BotAPI{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		logger:     logger.Named("telegram"),
	}
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// call posts a JSON payload to a Bot API method and decodes the result field
// into out when out is non-nil.
func (b *BotAPI) call(ctx context.Context, method string, payload, out any) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope struct {
		apiResponse
		Result json.RawMessage `json:"result"`
	}

	if err := sonic.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !envelope.OK {
		b.logger.Debug("Bot API call failed",
			zap.String("method", method),
			zap.Int("errorCode", envelope.ErrorCode),
			zap.String("description", envelope.Description))

		return fmt.Errorf("%w: %s returned %d: %s",
			ErrAPIRequest, method, envelope.ErrorCode, envelope.Description)
	}

	if out != nil {
		if err := sonic.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}

	return nil
}

// GetUpdates long-polls for updates after the given offset.
func (b *BotAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "my_chat_member"},
	}

	var updates []Update
	if err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}

	return updates, nil
}

// SendMessage delivers a text message to a chat.
func (b *BotAPI) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}

	if opts != nil {
		if opts.ParseMode != "" {
			payload["parse_mode"] = opts.ParseMode
		}

		if opts.ReplyMarkup != nil {
			payload["reply_markup"] = opts.ReplyMarkup
		}
	}

	return b.call(ctx, "sendMessage", payload, nil)
}

// BanChatMember removes a user from a chat.
func (b *BotAPI) BanChatMember(ctx context.Context, chatID, userID int64) error {
	payload := map[string]any{"chat_id": chatID, "user_id": userID}
	return b.call(ctx, "banChatMember", payload, nil)
}

// UnbanChatMember lifts a ban. only_if_banned avoids kicking present members.
func (b *BotAPI) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	payload := map[string]any{"chat_id": chatID, "user_id": userID, "only_if_banned": true}
	return b.call(ctx, "unbanChatMember", payload, nil)
}

// CreateChatInviteLink issues a time-boxed invite link with a member limit.
func (b *BotAPI) CreateChatInviteLink(
	ctx context.Context, chatID int64, expire time.Duration, memberLimit int,
) (string, error) {
	payload := map[string]any{
		"chat_id":      chatID,
		"expire_date":  time.Now().Add(expire).Unix(),
		"member_limit": memberLimit,
	}

	var result struct {
		InviteLink string `json:"invite_link"`
	}

	if err := b.call(ctx, "createChatInviteLink", payload, &result); err != nil {
		return "", err
	}

	return result.InviteLink, nil
}

// GetChatMember reports a user's membership in a chat.
func (b *BotAPI) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error) {
	payload := map[string]any{"chat_id": chatID, "user_id": userID}

	member := new(ChatMember)
	if err := b.call(ctx, "getChatMember", payload, member); err != nil {
		return nil, err
	}

	return member, nil
}

// GetChatMemberCount returns the number of members in a chat.
func (b *BotAPI) GetChatMemberCount(ctx context.Context, chatID int64) (int, error) {
	payload := map[string]any{"chat_id": chatID}

	var count int
	if err := b.call(ctx, "getChatMemberCount", payload, &count); err != nil {
		return 0, err
	}

	return count, nil
}

// GetMe returns the bot's own account.
func (b *BotAPI) GetMe(ctx context.Context) (*User, error) {
	user := new(User)
	if err := b.call(ctx, "getMe", map[string]any{}, user); err != nil {
		return nil, err
	}

	return user, nil
}
