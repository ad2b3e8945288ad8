// Package notify delivers project notifications to configured channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"opshub/internal/crypto"
	"opshub/internal/database/queries"
	"opshub/internal/models"
)

// Level grades a notification for channel formatting
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier resolves a project's channel config and delivers messages.
// Delivery failures are logged and swallowed; notifications never fail
// the operation that produced them.
type Notifier struct {
	channels  *queries.NotificationQueries
	encryptor *crypto.Encryptor
	client    *http.Client
	disabled  bool
	logger    *slog.Logger

	// slackURL is overridable for tests
	slackURL string
}

// NewNotifier creates a Notifier. When disabled is true every delivery is
// a logged no-op.
func NewNotifier(channels *queries.NotificationQueries, encryptor *crypto.Encryptor, disabled bool) *Notifier {
	return &Notifier{
		channels:  channels,
		encryptor: encryptor,
		client:    &http.Client{Timeout: 10 * time.Second},
		disabled:  disabled,
		logger:    slog.Default().With("component", "notifier"),
		slackURL:  "https://slack.com/api/chat.postMessage",
	}
}

// HandleNotifyJob is the queue handler for notify jobs
func (n *Notifier) HandleNotifyJob(ctx context.Context, payload []byte) error {
	var p models.NotifyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid notify payload: %w", err)
	}

	n.NotifyProject(ctx, p.ProjectID, p.Message, Level(p.Level))
	return nil
}

// NotifyProject sends a message through the project's configured channel
func (n *Notifier) NotifyProject(ctx context.Context, projectID, message string, level Level) {
	if n.disabled {
		n.logger.Debug("notifications disabled, skipping", "project_id", projectID)
		return
	}

	channel, err := n.channels.GetChannel(ctx, projectID, models.ChannelSlack)
	if err != nil {
		n.logger.Error("failed to load notification channel", "project_id", projectID, "error", err)
		return
	}
	if channel == nil {
		n.logger.Warn("no notification channel configured", "project_id", projectID)
		return
	}

	if err := n.sendSlack(ctx, channel, message, level); err != nil {
		n.logger.Error("failed to deliver notification",
			"project_id", projectID,
			"channel", channel.Type,
			"error", err)
	}
}

// sendSlack posts a message via the Slack Web API
func (n *Notifier) sendSlack(ctx context.Context, channel *models.NotificationChannel, message string, level Level) error {
	if !channel.SlackBotToken.Valid || !channel.SlackChannel.Valid {
		return fmt.Errorf("slack channel missing token or channel name")
	}

	token, err := n.encryptor.Decrypt(channel.SlackBotToken.String)
	if err != nil {
		return fmt.Errorf("failed to decrypt slack token: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"channel": channel.SlackChannel.String,
		"text":    fmt.Sprintf("%s %s", levelEmoji(level), message),
	})
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.slackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

func levelEmoji(level Level) string {
	switch level {
	case LevelError:
		return ":rotating_light:"
	case LevelWarning:
		return ":warning:"
	case LevelSuccess:
		return ":white_check_mark:"
	default:
		return ":information_source:"
	}
}
