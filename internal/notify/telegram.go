package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender sends notifications through the Telegram Bot API. The
// run's progress is kept in a single message that is edited in place.
type TelegramSender struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client

	mu                sync.Mutex
	progressMessageID int64
}

// TelegramOption configures a TelegramSender.
type TelegramOption func(*TelegramSender)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) TelegramOption {
	return func(t *TelegramSender) {
		t.httpClient = client
	}
}

// WithAPIBase overrides the Bot API endpoint, used in tests.
func WithAPIBase(base string) TelegramOption {
	return func(t *TelegramSender) {
		t.apiBase = strings.TrimRight(base, "/")
	}
}

// NewTelegramSender creates a Telegram notification sender.
func NewTelegramSender(botToken, chatID string, opts ...TelegramOption) *TelegramSender {
	t := &TelegramSender{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name returns the sender name.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// Send delivers one event. Progress events edit the pinned progress
// message instead of posting a new one.
func (t *TelegramSender) Send(ctx context.Context, event *Event) error {
	text := formatEvent(event)
	if text == "" {
		return nil
	}

	if event.Type == EventProgress {
		return t.sendOrEditProgress(ctx, text)
	}

	if event.Type == EventStart {
		// A new run starts a fresh progress message.
		t.mu.Lock()
		t.progressMessageID = 0
		t.mu.Unlock()
	}

	_, err := t.sendMessage(ctx, text)

	return err
}

func (t *TelegramSender) sendOrEditProgress(ctx context.Context, text string) error {
	t.mu.Lock()
	messageID := t.progressMessageID
	t.mu.Unlock()

	if messageID == 0 {
		id, err := t.sendMessage(ctx, text)
		if err != nil {
			return err
		}

		t.mu.Lock()
		t.progressMessageID = id
		t.mu.Unlock()

		return nil
	}

	err := t.editMessage(ctx, messageID, text)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		// Same content, nothing to update.
		return nil
	}

	return err
}

// TestConnection verifies the bot token with a getMe call.
func (t *TelegramSender) TestConnection(ctx context.Context) error {
	_, err := t.call(ctx, "getMe", map[string]any{})

	return err
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *TelegramSender) sendMessage(ctx context.Context, text string) (int64, error) {
	resp, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return 0, err
	}

	return resp.Result.MessageID, nil
}

func (t *TelegramSender) editMessage(ctx context.Context, messageID int64, text string) error {
	_, err := t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	})

	return err
}

func (t *TelegramSender) call(ctx context.Context, method string, payload map[string]any) (*telegramResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.botToken, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var resp telegramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("telegram %s: decoding response: %w", method, err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("telegram %s: %s", method, resp.Description)
	}

	return &resp, nil
}

// formatEvent renders an event as Telegram HTML.
func formatEvent(event *Event) string {
	switch event.Type {
	case EventStart:
		return fmt.Sprintf("🚀 <b>Backup started</b>\nAccounts: %s\nRepositories: %d",
			strings.Join(event.Accounts, ", "), event.Total)

	case EventProgress:
		s := event.Summary
		if s == nil {
			return ""
		}
		return fmt.Sprintf("⏳ <b>Backing up</b> [%d/%d]\n<code>%s</code>\n\n✅ %d  ⏭ %d  ❌ %d  🗑 %d",
			event.Index, event.Total, event.Repository,
			s.SuccessCount, s.SkippedCount, s.FailedCount, s.DeletedCount)

	case EventDeleted:
		return fmt.Sprintf("⚠️ <b>Repository deleted upstream</b>\n<code>%s</code>\nExisting backups are kept.",
			event.Repository)

	case EventError:
		if event.Repository != "" {
			return fmt.Sprintf("❌ <b>Backup error</b>\n<code>%s</code>\n%s", event.Repository, event.Message)
		}
		return fmt.Sprintf("❌ <b>Backup error</b>\n%s", event.Message)

	case EventComplete:
		s := event.Summary
		if s == nil {
			return ""
		}
		return fmt.Sprintf("🏁 <b>Backup complete</b> in %s\nTotal: %d\n✅ %d  ⏭ %d  ❌ %d  🗑 %d",
			s.DurationString(), s.TotalRepos,
			s.SuccessCount, s.SkippedCount, s.FailedCount, s.DeletedCount)

	default:
		return ""
	}
}
