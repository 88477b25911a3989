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
	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

// Notification carries the alert context handed to a delivery channel.
type Notification struct {
	ItemName    string
	ItemURL     string
	AlertType   storage.AlertType
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	TargetValue decimal.Decimal
	TriggeredAt time.Time
}

// Notifier defines the outbound alert channel.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram delivery channel.
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

// Notify sends the rendered alert via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("item", note.ItemName).
		Str("alert_type", string(note.AlertType)).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Alert] %s\n", describeAlertType(note.AlertType)))
	builder.WriteString(fmt.Sprintf("Item: %s\n", note.ItemName))
	if note.ItemURL != "" {
		builder.WriteString(fmt.Sprintf("URL: %s\n", note.ItemURL))
	}
	builder.WriteString(fmt.Sprintf("Price: %s -> %s\n", note.OldPrice.StringFixed(2), note.NewPrice.StringFixed(2)))

	switch note.AlertType {
	case storage.AlertTargetReached:
		builder.WriteString(fmt.Sprintf("Target: %s\n", note.TargetValue.StringFixed(2)))
	case storage.AlertPercentageDrop:
		builder.WriteString(fmt.Sprintf("Drop: %s%% (threshold %s%%)\n",
			PercentChange(note.OldPrice, note.NewPrice).StringFixed(2), note.TargetValue.StringFixed(2)))
	}

	builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func describeAlertType(t storage.AlertType) string {
	switch t {
	case storage.AlertPriceDrop:
		return "price drop"
	case storage.AlertTargetReached:
		return "target price reached"
	case storage.AlertPercentageDrop:
		return "percentage drop"
	case storage.AlertBackInStock:
		return "back in stock"
	default:
		return string(t)
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
