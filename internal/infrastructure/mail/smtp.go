package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/99minutos/identity-service/internal/infrastructure/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetryBase = 200 * time.Millisecond
)

var (
	// ErrSMTPHostPortRequired is returned when Host/Port are missing.
	ErrSMTPHostPortRequired = errors.New("smtp host and port are required")
	// ErrSMTPNoSender is returned when no From address is configured.
	ErrSMTPNoSender = errors.New("no sender provided")
	// ErrNoRecipient is returned when the recipient is empty.
	ErrNoRecipient = errors.New("no recipient provided")
)

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds a single delivery attempt, dial included.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// RetryBase is the first backoff interval; it doubles per attempt.
	RetryBase time.Duration
}

// SMTP implements ports.Mailer over net/smtp.
type SMTP struct {
	addr      string
	host      string
	from      string
	auth      smtp.Auth
	timeout   time.Duration
	retries   uint64
	retryBase time.Duration
}

// NewSMTP constructs an SMTP mail sender.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, ErrSMTPHostPortRequired
	}
	if cfg.From == "" {
		return nil, ErrSMTPNoSender
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	s := &SMTP{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:      cfg.Host,
		from:      cfg.From,
		auth:      auth,
		timeout:   cfg.Timeout,
		retryBase: cfg.RetryBase,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.retryBase <= 0 {
		s.retryBase = defaultRetryBase
	}
	if cfg.Retries > 0 {
		s.retries = uint64(cfg.Retries)
	}
	return s, nil
}

// Send delivers a plain-text message, retrying transient (non-5xx) failures
// with exponential backoff.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	to = sanitizeHeader(to)
	if to == "" {
		return ErrNoRecipient
	}
	raw := buildMessage(s.from, to, subject, body, time.Now())

	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.sendOnce(ctx, to, raw); err != nil {
			if permanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.MailDeliveriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("smtp send: %w", err)
	}
	metrics.MailDeliveriesTotal.WithLabelValues("sent").Inc()
	return nil
}

func (s *SMTP) sendOnce(ctx context.Context, to string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// permanent reports whether the server rejected the message outright (5xx).
func permanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

func buildMessage(from, to, subject, body string, now time.Time) []byte {
	headers := []string{
		"From: " + sanitizeHeader(from),
		"To: " + to,
		"Subject: " + sanitizeHeader(subject),
		"Date: " + now.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	body = strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

// sanitizeHeader drops line breaks so values cannot inject headers.
func sanitizeHeader(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(v))
}
