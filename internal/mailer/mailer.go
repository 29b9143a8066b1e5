// Package mailer delivers confirmation codes over a transactional email
// HTTP API.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pulsegate/pulsegate/internal/setup/config"
	"go.uber.org/zap"
)

// ErrSendFailed indicates the mail API rejected the request.
var ErrSendFailed = errors.New("mail api rejected the message")

// Sender delivers a confirmation code to an email address.
type Sender interface {
	SendCode(ctx context.Context, email string, code int) error
}

// Mailer sends transactional mail through an HTTP API.
type Mailer struct {
	httpClient *http.Client
	config     *config.Mail
	logger     *zap.Logger
}

// New creates a mailer for the configured API.
func New(cfg *config.Mail, logger *zap.Logger) *Mailer {
	return &Mailer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger.Named("mailer"),
	}
}

// SendCode emails the confirmation code to the given address.
func (m *Mailer) SendCode(ctx context.Context, email string, code int) error {
	payload := map[string]any{
		"from": map[string]string{
			"email": m.config.SenderEmail,
			"name":  m.config.SenderName,
		},
		"to": []map[string]string{
			{"email": email},
		},
		"subject": "Confirmation code",
		"html":    fmt.Sprintf("<p>Your confirmation code: <b>%d</b></p>", code),
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		m.logger.Warn("Mail API returned an error",
			zap.Int("status", resp.StatusCode),
			zap.String("email", MaskEmail(email)),
			zap.ByteString("body", detail))

		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	m.logger.Debug("Sent confirmation code",
		zap.String("email", MaskEmail(email)))

	return nil
}

// MaskEmail hides most of the local part for log output.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}

	return email[:1] + "***" + email[at:]
}
