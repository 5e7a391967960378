package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/adreport/internal/logger"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig configures delivery.
type SMTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	ToAddress      string
	ToName         string
	MaxRetries     int
	RetryDelayBase time.Duration
}

// SMTPSender delivers rendered reports to a single recipient.
type SMTPSender struct {
	addr           string
	auth           smtp.Auth
	from           *mail.Address
	to             *mail.Address
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
	send           SendFunc
}

// NewSMTPSender creates a sender. Authentication is used when a username is set.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	to, err := mail.ParseAddress(cfg.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	if cfg.ToName != "" {
		to.Name = cfg.ToName
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	s := &SMTPSender{
		addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:           from,
		to:             to,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		now:            time.Now,
		send:           smtp.SendMail,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// WithSendFunc replaces the SMTP transport.
func (s *SMTPSender) WithSendFunc(fn SendFunc) *SMTPSender {
	s.send = fn
	return s
}

// Send delivers msg with linear-backoff retry.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	raw, err := s.compose(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if err := s.send(s.addr, s.auth, s.from.Address, []string{s.to.Address}, raw); err == nil {
			logger.Debug("Delivered %s report to %s", msg.Locale, s.to.Address)
			return nil
		} else {
			lastErr = err
		}
		logger.Warn("SMTP delivery failed (attempt %d/%d): %v", i+1, s.maxRetries, lastErr)
		if i == s.maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", s.maxRetries, lastErr)
}

// compose builds a UTF-8 text/plain message in quoted-printable encoding.
func (s *SMTPSender) compose(msg *Message) ([]byte, error) {
	domain := "localhost"
	if at := strings.LastIndex(s.from.Address, "@"); at >= 0 {
		domain = s.from.Address[at+1:]
	}

	var buf bytes.Buffer
	headers := []struct{ key, value string }{
		{"From", s.from.String()},
		{"To", s.to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return buf.Bytes(), nil
}
