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

	"primepulse/internal/detector"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	SendAlert(ctx context.Context, alert storage.AlertRecord) error
	SendBatch(ctx context.Context, alerts []storage.AlertRecord) error
	SendDigest(ctx context.Context, threats []threat.Assessment, scopeName string) error
	SendSystem(ctx context.Context, message, level string) error
}

// SlackNotifier 通过 incoming webhook 推送消息。
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier 构造 Slack 告警器。
func NewSlackNotifier(webhookURL, channel, username string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if channel == "" {
		channel = "#price-alerts"
	}
	if username == "" {
		username = "PrimePulse Bot"
	}

	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackPayload struct {
	Channel     string            `json:"channel"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// SendAlert 推送单条告警。
func (n *SlackNotifier) SendAlert(ctx context.Context, alert storage.AlertRecord) error {
	payload := slackPayload{
		Channel:     n.channel,
		Username:    n.username,
		IconEmoji:   ":bell:",
		Attachments: []slackAttachment{formatAlert(alert)},
	}

	if err := n.post(ctx, payload); err != nil {
		return err
	}

	n.logger.Info().Str("asin", alert.ASIN).
		Str("kind", alert.Kind).
		Str("severity", alert.Severity).
		Msg("告警已发送 (Slack)")
	return nil
}

// SendBatch 将多条告警合并为一条消息推送。
func (n *SlackNotifier) SendBatch(ctx context.Context, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}

	attachments := make([]slackAttachment, 0, len(alerts))
	for _, alert := range alerts {
		attachments = append(attachments, formatAlert(alert))
	}

	payload := slackPayload{
		Channel:     n.channel,
		Username:    n.username,
		IconEmoji:   ":bell:",
		Attachments: attachments,
	}

	if err := n.post(ctx, payload); err != nil {
		return err
	}

	n.logger.Info().Int("count", len(alerts)).Msg("批量告警已发送 (Slack)")
	return nil
}

// SendDigest 推送排名靠前的威胁摘要。
func (n *SlackNotifier) SendDigest(ctx context.Context, threats []threat.Assessment, scopeName string) error {
	if len(threats) == 0 {
		return nil
	}

	payload := slackPayload{
		Channel:   n.channel,
		Username:  n.username,
		IconEmoji: ":warning:",
		Text:      formatDigest(threats, scopeName),
	}

	if err := n.post(ctx, payload); err != nil {
		return err
	}

	n.logger.Info().Int("count", len(threats)).Msg("威胁摘要已发送 (Slack)")
	return nil
}

// SendSystem 推送系统级通知。
func (n *SlackNotifier) SendSystem(ctx context.Context, message, level string) error {
	color := "good"
	emoji := ":information_source:"
	switch level {
	case "error":
		color = "danger"
		emoji = ":x:"
	case "warning", "warn":
		color = "warning"
		emoji = ":warning:"
	}

	payload := slackPayload{
		Channel:   n.channel,
		Username:  n.username,
		IconEmoji: emoji,
		Attachments: []slackAttachment{{
			Color:  color,
			Title:  "PrimePulse System Alert",
			Text:   message,
			Footer: "PrimePulse System",
			TS:     time.Now().Unix(),
		}},
	}

	return n.post(ctx, payload)
}

func (n *SlackNotifier) post(ctx context.Context, payload slackPayload) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d", resp.StatusCode)
	}
	return nil
}

func formatAlert(alert storage.AlertRecord) slackAttachment {
	color := "good"
	title := "Price Alert"
	switch alert.Kind {
	case detector.KindPriceDrop:
		title = "💰 Price Drop Alert"
		if alert.Severity == detector.SeverityCritical {
			color = "danger"
		}
	case detector.KindCouponAdded:
		color = "warning"
		title = "🎫 Coupon Added"
	case detector.KindBackInStock:
		title = "📦 Back in Stock"
	}

	fields := []slackField{
		{Title: "ASIN", Value: fmt.Sprintf("<https://www.amazon.com/dp/%s|%s>", alert.ASIN, alert.ASIN), Short: true},
		{Title: "Current Price", Value: "$" + alert.CurrentPrice.StringFixed(2), Short: true},
	}
	if alert.PreviousPrice != nil {
		fields = append(fields, slackField{Title: "Previous Price", Value: "$" + alert.PreviousPrice.StringFixed(2), Short: true})
	}
	if alert.PriceChange != nil && alert.PriceChangePct != nil {
		sign := ""
		if alert.PriceChange.Sign() >= 0 {
			sign = "+"
		}
		fields = append(fields, slackField{
			Title: "Price Change",
			Value: fmt.Sprintf("%s$%s (%s%%)", sign, alert.PriceChange.StringFixed(2), alert.PriceChangePct.StringFixed(1)),
			Short: true,
		})
	}
	if alert.CouponAmount != nil && alert.CouponAmount.GreaterThan(decimal.Zero) {
		fields = append(fields, slackField{Title: "Coupon", Value: "$" + alert.CouponAmount.StringFixed(2), Short: true})
	}

	text := "Product: " + alert.ASIN
	if alert.Title != nil && *alert.Title != "" {
		text = "*" + *alert.Title + "*"
	}

	return slackAttachment{
		Color:  color,
		Title:  title,
		Text:   text,
		Fields: fields,
		Footer: "PrimePulse",
		TS:     alert.CreatedAt.Unix(),
	}
}

func formatDigest(threats []threat.Assessment, scopeName string) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🚨 *Top %d Price Drop Threats for %s*\n\n", len(threats), scopeName))

	for i, t := range threats {
		name := t.ASIN
		if t.Title != nil && *t.Title != "" {
			name = *t.Title
		}
		builder.WriteString(fmt.Sprintf("*%d. %s*\n", i+1, name))
		builder.WriteString(fmt.Sprintf("• ASIN: <https://www.amazon.com/dp/%s|%s>\n", t.ASIN, t.ASIN))
		builder.WriteString(fmt.Sprintf("• Current Price: $%.2f\n", t.CurrentPrice))
		builder.WriteString(fmt.Sprintf("• Drop Probability: %.1f%%\n", t.DropProbability*100))
		builder.WriteString(fmt.Sprintf("• Expected Drop: %.1f%%\n", t.ExpectedDropPct))
		builder.WriteString(fmt.Sprintf("• Confidence: %.1f%%\n\n", t.Confidence*100))
	}

	builder.WriteString(fmt.Sprintf("_Generated at %s_", time.Now().UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*SlackNotifier)(nil)
