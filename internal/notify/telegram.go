package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyKillSwitch sends an alert when a fund's kill-switch is toggled,
// whether by an operator command or an automatic daily-loss-limit breach.
func (n *Notifier) NotifyKillSwitch(ctx context.Context, fundID string, on bool, reason string) error {
	state := "disengaged"
	if on {
		state = "ENGAGED"
	}
	msg := fmt.Sprintf("<b>Kill-Switch %s</b>\nFund: <code>%s</code>\nReason: %s", state, fundID, reason)
	return n.Send(ctx, msg)
}

// NotifyDailyLossLimit sends an alert when a fund hits its daily loss cap.
func (n *Notifier) NotifyDailyLossLimit(ctx context.Context, fundID string, realizedPnL, limit float64) error {
	msg := fmt.Sprintf("<b>Daily Loss Limit Hit</b>\nFund: <code>%s</code>\nRealized PnL: %.2f USDC\nLimit: %.2f USDC", fundID, realizedPnL, limit)
	return n.Send(ctx, msg)
}

// NotifyPersistFailure sends an alert carrying a fund's total count of
// failed execution-persistence writes, since unrecorded fills are a silent
// data-loss risk.
func (n *Notifier) NotifyPersistFailure(ctx context.Context, fundID string, totalFailures int64) error {
	msg := fmt.Sprintf("<b>Execution Persist Failures</b>\nFund: <code>%s</code>\nTotal failures: %d", fundID, totalFailures)
	return n.Send(ctx, msg)
}

// NotifyDailySummary sends an aggregate end-of-day summary across funds.
func (n *Notifier) NotifyDailySummary(ctx context.Context, totalPnL float64, fundCount int, totalVolume float64) error {
	msg := fmt.Sprintf("<b>Daily Summary</b>\nFunds: %d\nTotal PnL: %.2f USDC\nTotal Volume: %.2f USDC", fundCount, totalPnL, totalVolume)
	return n.Send(ctx, msg)
}
