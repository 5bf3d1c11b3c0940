package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dqwatch/internal/storage"
)

// Notifier pushes newly opened alerts to an external sink.
type Notifier interface {
	Notify(ctx context.Context, alert storage.Alert) error
}

// TelegramNotifier delivers alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram alert sink.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, alert storage.Alert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderAlert(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", alert.ID).
		Str("rule", alert.RuleName).
		Str("severity", string(alert.Severity)).
		Msg("alert dispatched via telegram")
	return nil
}

func renderAlert(alert storage.Alert) string {
	builder := strings.Builder{}
	builder.WriteString("[Data Quality Alert]\n")
	builder.WriteString(fmt.Sprintf("Rule: %s (%s)\n", alert.RuleName, alert.Severity))
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", alert.Bucket.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Source: %s\n", alert.Source))
	builder.WriteString(fmt.Sprintf("Metric: %s = %s\n", alert.MetricKey, alert.Value.StringFixed(2)))
	if alert.Baseline != nil {
		builder.WriteString(fmt.Sprintf("Previous: %s\n", alert.Baseline.StringFixed(2)))
	}
	if alert.Message != "" {
		builder.WriteString(alert.Message)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
