package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/internal/pkg/config"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers HTML mail through an SMTP relay.
type SMTPMailer struct {
	cfg  config.SMTP
	send sendFunc
}

func NewSMTPMailer(cfg config.SMTP) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// New returns an SMTP mailer, or one that only logs when SMTP is not
// configured.
func New(cfg config.SMTP) Mailer {
	if !cfg.Enabled() {
		log.Warn("[Mail] SMTP_HOST not set, notifications are logged only")
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

func (m *SMTPMailer) SendDocUpdateEmail(ctx context.Context, d DocUpdate) error {
	body, err := renderDocUpdate(d)
	if err != nil {
		return fmt.Errorf("render doc update: %w", err)
	}
	return m.sendHTML(ctx, d.To, "Documentation Updated: "+d.RepoName, body)
}

func (m *SMTPMailer) SendErrorNotification(ctx context.Context, to, repoName, errMsg, jobID string) error {
	body, err := renderError(repoName, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("render error notification: %w", err)
	}
	return m.sendHTML(ctx, to, "Documentation Update Failed: "+repoName, body)
}

func (m *SMTPMailer) SendLowCreditsWarning(ctx context.Context, to string, balance int64) error {
	body, err := renderLowCredits(balance)
	if err != nil {
		return fmt.Errorf("render low credits warning: %w", err)
	}
	return m.sendHTML(ctx, to, "Low Credits Warning - DocFox", body)
}

// headerSafe strips line breaks so user data cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

func (m *SMTPMailer) sendHTML(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.cfg.From, headerSafe(to), headerSafe(subject)) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := m.send(addr, auth, envelopeAddress(m.cfg.From), []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", to, err)
		return err
	}
	log.Infof("[Mail] Sent %q to %s via %s", subject, to, addr)
	return nil
}

// envelopeAddress takes the address out of "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}

// LogMailer writes notifications to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) SendDocUpdateEmail(_ context.Context, d DocUpdate) error {
	log.Infof("[Mail] (not sent) doc update for %s to %s: %s", d.RepoName, d.To, d.Summary)
	return nil
}

func (LogMailer) SendErrorNotification(_ context.Context, to, repoName, errMsg, _ string) error {
	log.Infof("[Mail] (not sent) error notification for %s to %s: %s", repoName, to, errMsg)
	return nil
}

func (LogMailer) SendLowCreditsWarning(_ context.Context, to string, balance int64) error {
	log.Infof("[Mail] (not sent) low credits warning to %s: balance %d", to, balance)
	return nil
}
