package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// NotificationChannel delivers alerts to an external destination
type NotificationChannel interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	if username == "" {
		username = "meshgate"
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (sc *SlackChannel) Name() string {
	return "slack"
}

// Send sends an alert to Slack
func (sc *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	color := colorForSeverity(alert.Severity)
	status := "FIRING"
	if alert.Resolved() {
		status = "RESOLVED"
		color = "good"
	}

	payload := map[string]interface{}{
		"channel":  sc.channel,
		"username": sc.username,
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"title":     fmt.Sprintf("[%s] %s", status, alert.Message),
				"timestamp": alert.FiredAt.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Service", "value": alert.Service, "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
					{"title": "Metric", "value": alert.Metric, "short": true},
					{"title": "Value", "value": fmt.Sprintf("%.2f (threshold %.2f)", alert.Value, alert.Threshold), "short": true},
				},
			},
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.webhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack API returned status %d", resp.StatusCode)
	}
	return nil
}

func colorForSeverity(severity Severity) string {
	switch severity {
	case SeverityInfo:
		return "#36a64f"
	case SeverityWarning:
		return "#ff9500"
	case SeverityCritical:
		return "#ff0000"
	default:
		return "#808080"
	}
}

// EmailChannel sends alerts over SMTP
type EmailChannel struct {
	smtpHost    string
	smtpPort    int
	username    string
	password    string
	fromAddress string
	toAddresses []string
}

// NewEmailChannel creates a new email notification channel
func NewEmailChannel(smtpHost string, smtpPort int, username, password, fromAddress string, toAddresses []string) *EmailChannel {
	return &EmailChannel{
		smtpHost:    smtpHost,
		smtpPort:    smtpPort,
		username:    username,
		password:    password,
		fromAddress: fromAddress,
		toAddresses: toAddresses,
	}
}

// Name returns the channel name
func (ec *EmailChannel) Name() string {
	return "email"
}

// Send sends an alert via email
func (ec *EmailChannel) Send(ctx context.Context, alert *Alert) error {
	status := "FIRING"
	if alert.Resolved() {
		status = "RESOLVED"
	}

	subject := fmt.Sprintf("[meshgate] %s %s: %s", status, strings.ToUpper(string(alert.Severity)), alert.Message)
	body := fmt.Sprintf(
		"Alert: %s\nService: %s\nMetric: %s\nValue: %.2f (threshold %.2f)\nSeverity: %s\nFired: %s\n",
		alert.Message,
		alert.Service,
		alert.Metric,
		alert.Value,
		alert.Threshold,
		alert.Severity,
		alert.FiredAt.Format(time.RFC3339),
	)

	msg := []byte(
		"From: " + ec.fromAddress + "\r\n" +
			"To: " + strings.Join(ec.toAddresses, ", ") + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"\r\n" + body,
	)

	addr := fmt.Sprintf("%s:%d", ec.smtpHost, ec.smtpPort)
	var auth smtp.Auth
	if ec.username != "" {
		auth = smtp.PlainAuth("", ec.username, ec.password, ec.smtpHost)
	}

	if err := smtp.SendMail(addr, auth, ec.fromAddress, ec.toAddresses, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// WebhookChannel POSTs the alert as JSON to a configured URL
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (wc *WebhookChannel) Name() string {
	return "webhook"
}

// Send sends an alert via webhook
func (wc *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LoggingChannel writes alerts to the application logger. It is always
// registered so alerts are visible even with no external channel configured.
type LoggingChannel struct {
	logger *logging.Logger
}

// NewLoggingChannel creates a logging notification channel
func NewLoggingChannel(logger *logging.Logger) *LoggingChannel {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingChannel{logger: logger}
}

// Name returns the channel name
func (lc *LoggingChannel) Name() string {
	return "log"
}

// Send logs the alert at a level matching its severity
func (lc *LoggingChannel) Send(ctx context.Context, alert *Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"rule_id", alert.RuleID,
		"service", alert.Service,
		"metric", alert.Metric,
		"value", alert.Value,
		"threshold", alert.Threshold,
		"status", string(alert.Status),
	}

	switch alert.Severity {
	case SeverityCritical:
		lc.logger.Error("ALERT: "+alert.Message, fields...)
	case SeverityWarning:
		lc.logger.Warn("ALERT: "+alert.Message, fields...)
	default:
		lc.logger.Info("ALERT: "+alert.Message, fields...)
	}
	return nil
}
