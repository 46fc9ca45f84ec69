package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-account-tokens/internal/config"
	"github.com/go-account-tokens/internal/domain"
	"gopkg.in/gomail.v2"
)

type dialer interface {
	Dial() (gomail.SendCloser, error)
}

// Notifier emails redemption links over SMTP. It holds one connection for
// the life of the process and redials when the server has dropped it.
type Notifier struct {
	dialer dialer
	from   string
	ttl    map[domain.Purpose]time.Duration

	sem  chan struct{} // held while conn is in use
	conn gomail.SendCloser
}

func NewNotifier(cfg *config.Config) *Notifier {
	return newNotifier(gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), cfg.SMTPFrom, map[domain.Purpose]time.Duration{
		domain.PurposeEmailVerification: cfg.Tokens.VerificationTTL,
		domain.PurposePasswordReset:     cfg.Tokens.ResetTTL,
	})
}

func newNotifier(d dialer, from string, ttl map[domain.Purpose]time.Duration) *Notifier {
	return &Notifier{dialer: d, from: from, ttl: ttl, sem: make(chan struct{}, 1)}
}

// SendLink mails link to toEmail. gomail has no context support, so the send
// runs in its own goroutine and is abandoned if ctx ends first; the goroutine
// keeps the connection until the server answers.
func (n *Notifier) SendLink(ctx context.Context, toEmail string, purpose domain.Purpose, link string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject(purpose))
	m.SetBody("text/html", body(purpose, link, n.ttl[purpose]))

	select {
	case n.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("send %s email: %w", purpose, ctx.Err())
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-n.sem }()
		done <- n.send(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send %s email: %w", purpose, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send %s email: %w", purpose, ctx.Err())
	}
}

// send must be called with sem held.
func (n *Notifier) send(m *gomail.Message) error {
	if n.conn != nil {
		err := gomail.Send(n.conn, m)
		if err == nil {
			return nil
		}
		slog.Warn("smtp send failed on held connection, redialing", "err", err)
		n.drop()
	}

	conn, err := n.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	n.conn = conn
	if err := gomail.Send(conn, m); err != nil {
		n.drop()
		return err
	}
	return nil
}

func (n *Notifier) drop() {
	if err := n.conn.Close(); err != nil {
		slog.Debug("smtp close failed", "err", err)
	}
	n.conn = nil
}

// Close waits for any in-flight send and hangs up.
func (n *Notifier) Close() error {
	n.sem <- struct{}{}
	defer func() { <-n.sem }()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

func subject(p domain.Purpose) string {
	switch p {
	case domain.PurposeEmailVerification:
		return "Verify Your Email"
	case domain.PurposePasswordReset:
		return "Password Reset"
	default:
		return "Account notice"
	}
}

func body(p domain.Purpose, link string, ttl time.Duration) string {
	switch p {
	case domain.PurposeEmailVerification:
		return fmt.Sprintf(`<h2>Welcome</h2>
<p>Click <a href="%s">here</a> to verify your email address.</p>
<p>This link <b>expires in %s</b>.</p>`, link, humanDuration(ttl))
	default:
		return fmt.Sprintf(`<p>Use this <a href="%s">link</a> to reset your password.</p>
<p>This link will expire in %s.</p>
<p>If you did not request this change, you can ignore this email.</p>`, link, humanDuration(ttl))
	}
}

// humanDuration renders whole hours as hours and everything else as minutes.
func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
