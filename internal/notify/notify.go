// Package notify delivers best-effort email notifications. Delivery never
// affects the outcome of the operation that triggered it.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gigledger/internal/metrics"
)

// Mail is one plain-text message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a single message synchronously.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPSender sends over implicit TLS with PLAIN auth.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func (s SMTPSender) Send(ctx context.Context, m Mail) error {
	if s.Host == "" || s.From == "" {
		return fmt.Errorf("smtp not configured")
	}
	port := s.Port
	if port == 0 {
		port = 465
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: &tls.Config{ServerName: s.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(compose(s.From, m)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}

func compose(from string, m Mail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(from))
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(m.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(m.Subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n" + m.Body + "\r\n")
	return []byte(b.String())
}

// headerValue folds line breaks into spaces so user text cannot start a new
// header.
func headerValue(v string) string {
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}

// Notifier fans messages out to a Sender in the background.
type Notifier struct {
	Sender Sender
	Logger *slog.Logger

	wg sync.WaitGroup
}

// New returns a Notifier. A nil sender disables delivery.
func New(sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Sender: sender, Logger: logger}
}

// Notify schedules delivery and returns immediately. Failures are logged
// and counted.
func (n *Notifier) Notify(m Mail) {
	if n == nil || n.Sender == nil || strings.TrimSpace(m.To) == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := n.Sender.Send(ctx, m); err != nil {
			metrics.NotificationsFailed.Inc()
			n.Logger.Warn("notification not delivered", "to", m.To, "subject", m.Subject, "error", err)
			return
		}
		n.Logger.Info("notification sent", "to", m.To, "subject", m.Subject)
	}()
}

// Wait blocks until all scheduled deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// GigCompleted is sent to the assigned worker when a gig's escrow is released.
func GigCompleted(to, gigTitle, amount string) Mail {
	return Mail{
		To:      to,
		Subject: "Payment released: " + gigTitle,
		Body:    fmt.Sprintf("The escrow for %q has been released. %s is on its way to your account.", gigTitle, amount),
	}
}

// GigCancelled is sent to both parties when an arbiter cancels a gig.
func GigCancelled(to, gigTitle string) Mail {
	return Mail{
		To:      to,
		Subject: "Gig cancelled: " + gigTitle,
		Body:    fmt.Sprintf("An arbiter cancelled %q and refunded the escrow to the client.", gigTitle),
	}
}
