// src/services/notifier.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/username/slips/src/config"
	"github.com/username/slips/src/logger"
)

func NewNotifier() Notifier {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Notifier will default to mock.")
		return &MockNotifier{}
	}

	provider := strings.ToLower(config.Cfg.NotifierProvider)
	logger.L.Info("Initializing halt notifier", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" ||
			config.Cfg.SenderEmail == "" || config.Cfg.OperatorEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, SenderEmail or OperatorEmail missing). Falling back to MockNotifier.")
			return &MockNotifier{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunNotifier{
			mg:            mg,
			senderEmail:   config.Cfg.SenderEmail,
			senderName:    config.Cfg.SenderName,
			operatorEmail: config.Cfg.OperatorEmail,
		}
	default:
		logger.L.Info("Defaulting to MockNotifier.")
		return &MockNotifier{}
	}
}

type MailgunNotifier struct {
	mg            mailgun.Mailgun
	senderEmail   string
	senderName    string
	operatorEmail string
}

func (n *MailgunNotifier) NotifyHalt(ctx context.Context, notice HaltNotice) error {
	from := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	subject := fmt.Sprintf("SLIPS run halted: %s (%s)", notice.FileName, notice.Reason)

	body := fmt.Sprintf(`Outward recreation run %s for file %s halted at %s.

Reason: %s

%s

Update the reference data if needed, then retry or discard the run.`,
		notice.RunID, notice.FileName, notice.HaltedAt.Format(time.RFC3339),
		notice.Reason, notice.Detail)

	message := n.mg.NewMessage(from, subject, body, n.operatorEmail)
	message.AddTag("run-halted")

	ctx, cancel := context.WithTimeout(ctx, time.Second*20)
	defer cancel()
	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send halt notification via Mailgun", "error", err, "runID", notice.RunID, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed for halt notice: %w. Response: %s", err, resp)
	}
	logger.L.Info("Halt notification sent via Mailgun", "runID", notice.RunID, "id", id)
	return nil
}

// MockNotifier logs notices and keeps them for inspection.
type MockNotifier struct {
	mu      sync.Mutex
	Notices []HaltNotice
}

func (m *MockNotifier) NotifyHalt(ctx context.Context, notice HaltNotice) error {
	m.mu.Lock()
	m.Notices = append(m.Notices, notice)
	m.mu.Unlock()
	logger.L.Info("MockNotifier: Would send halt notification.", "runID", notice.RunID, "fileName", notice.FileName, "reason", notice.Reason)
	return nil
}

// Sent returns a copy of the notices received so far.
func (m *MockNotifier) Sent() []HaltNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HaltNotice(nil), m.Notices...)
}
