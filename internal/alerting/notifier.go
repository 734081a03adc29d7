package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/models"
)

// Notification is the structured payload handed to outbound transports when
// an alert fires.
type Notification struct {
	Alert    *models.Alert
	HostName string
	FiredAt  time.Time
}

// Notifier is injected into the evaluator. Implementations own their error
// handling: a failed delivery is logged, never surfaced, so it can't affect
// alert-state correctness.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards notifications. Used when no transport is configured
// and as the default in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// Dispatcher sends email and/or webhook notifications, each optional
// depending on configuration. Sends run in a goroutine so a slow SMTP
// server never stalls evaluation.
type Dispatcher struct {
	cfg    *config.Config
	client *http.Client
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Dispatcher) Notify(n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		d.sendEmail(n)
		d.sendWebhook(ctx, n)
	}()
}

func (d *Dispatcher) sendEmail(n Notification) {
	if d.cfg.SMTPHost == "" || d.cfg.AlertEmailTo == "" {
		return
	}

	subject := fmt.Sprintf("[FleetWatch %s] %s: %s",
		strings.ToUpper(n.Alert.Severity), n.HostName, n.Alert.Metric)
	body := fmt.Sprintf(
		"Host: %s\r\nSeverity: %s\r\nDetails: %s\r\nTime: %s\r\n",
		n.HostName, n.Alert.Severity, n.Alert.Message, n.FiredAt.Format(time.RFC3339))

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		d.cfg.SMTPFrom, d.cfg.AlertEmailTo, subject, body)

	addr := fmt.Sprintf("%s:%d", d.cfg.SMTPHost, d.cfg.SMTPPort)
	var auth smtp.Auth
	if d.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", d.cfg.SMTPUser, d.cfg.SMTPPass, d.cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, d.cfg.SMTPFrom, []string{d.cfg.AlertEmailTo}, []byte(msg)); err != nil {
		slog.Error("Email notification failed", "error", err)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, n Notification) {
	if d.cfg.WebhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"type":      "alert",
		"alert":     n.Alert,
		"host":      n.HostName,
		"timestamp": n.FiredAt.Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Webhook payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Error("Webhook notification failed", "error", err)
		return
	}
	resp.Body.Close()
}
