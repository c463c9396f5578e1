package notifier

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"restock/internal/product"
	logx "restock/pkg/logx"
)

const (
	defaultSubject = `{{.ProductName}} is in stock at {{.Store}}`
	defaultBody    = `Good news! {{.ProductName}} is back in stock at {{.Store}}.

{{.URL}}
`
)

// Email is an SMTP notifier. It is safe for concurrent use.
type Email struct {
	cfg     Config
	log     logx.Logger
	addr    string
	auth    smtp.Auth
	subject *template.Template
	body    *template.Template
	limiter *rate.Limiter
}

// NewEmail validates cfg and builds the transport settings up front so
// concurrent first sends never race on initialization.
func NewEmail(cfg Config, log logx.Logger) (*Email, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.From == "" {
		return nil, ErrMissingSender
	}
	to := make([]string, 0, len(cfg.To))
	for _, addr := range cfg.To {
		if a := strings.TrimSpace(addr); a != "" {
			to = append(to, a)
		}
	}
	if len(to) == 0 {
		return nil, ErrMissingRecipient
	}
	cfg.To = to

	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = defaultSubject
	}
	if strings.TrimSpace(cfg.Body) == "" {
		cfg.Body = defaultBody
	}
	subj, err := template.New("subject").Option("missingkey=error").Parse(cfg.Subject)
	if err != nil {
		return nil, fmt.Errorf("notifier: subject template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=error").Parse(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("notifier: body template: %w", err)
	}

	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = "starttls"
	}
	switch cfg.TLSMode {
	case "starttls", "implicit", "none":
	default:
		return nil, fmt.Errorf("notifier: unknown tls mode %q", cfg.TLSMode)
	}

	e := &Email{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "notifier")),
		subject: subj,
		body:    body,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec))),
	}
	if cfg.DryRun {
		return e, nil
	}

	host := strings.TrimSpace(cfg.SMTPHost)
	if host == "" {
		return nil, ErrMissingSMTPServer
	}
	port := cfg.SMTPPort
	if port <= 0 {
		port = 587
		if cfg.TLSMode == "implicit" {
			port = 465
		}
	}
	e.cfg.SMTPHost = host
	e.addr = net.JoinHostPort(host, strconv.Itoa(port))
	if cfg.Username != "" {
		e.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return e, nil
}

// DryRun reports whether Send skips network I/O.
func (e *Email) DryRun() bool { return e.cfg.DryRun }

// Send delivers one message for p. Errors match ErrSendFailed.
func (e *Email) Send(ctx context.Context, p product.Product) error {
	msg := Message{ProductName: p.Label(), Store: p.Domain(), URL: p.URL}
	log := e.log.With(logx.String("product", msg.ProductName), logx.String("domain", msg.Store))

	if e.cfg.DryRun {
		log.Info("dry run: not sending email", logx.Any("to", e.cfg.To))
		return nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate wait: %w", ErrSendFailed, err)
	}
	raw, err := e.render(msg)
	if err != nil {
		return fmt.Errorf("%w: render: %w", ErrSendFailed, err)
	}
	start := time.Now()
	if err := e.deliver(ctx, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	log.Info("email sent", logx.Duration("took", time.Since(start)))
	return nil
}

func (e *Email) render(m Message) ([]byte, error) {
	var subj, body bytes.Buffer
	if err := e.subject.Execute(&subj, m); err != nil {
		return nil, err
	}
	if err := e.body.Execute(&body, m); err != nil {
		return nil, err
	}

	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", e.cfg.From)
	header("To", strings.Join(e.cfg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", strings.TrimSpace(strings.ReplaceAll(subj.String(), "\n", " "))))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("Message-ID", messageID(e.cfg.From))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body.String(), "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes(), nil
}

func (e *Email) deliver(ctx context.Context, msg []byte) error {
	d := &net.Dialer{Timeout: e.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if e.cfg.TLSMode == "implicit" {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: e.cfg.SMTPHost}}
		conn, err = td.DialContext(ctx, "tcp", e.addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", e.addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", e.addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock the SMTP exchange when ctx is cancelled mid-conversation.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if e.cfg.HeloName != "" {
		if err := c.Hello(e.cfg.HeloName); err != nil {
			return fmt.Errorf("smtp hello: %w", err)
		}
	}
	if e.cfg.TLSMode == "starttls" {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if e.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return fmt.Errorf("smtp server does not support AUTH")
		}
		if err := c.Auth(e.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	// Close waits for the server's 250; that reply is the delivery confirmation.
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	_ = c.Quit()
	return nil
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = strings.Trim(from[i+1:], "<> ")
	}
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "<" + hex.EncodeToString(b[:]) + "@" + domain + ">"
}
