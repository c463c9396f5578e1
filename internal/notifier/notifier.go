package notifier

import (
	"context"
	"errors"
	"time"

	"restock/internal/product"
)

var (
	ErrSendFailed        = errors.New("notification send failed")
	ErrMissingSender     = errors.New("notifier: sender address required")
	ErrMissingRecipient  = errors.New("notifier: recipient address required")
	ErrMissingSMTPServer = errors.New("notifier: smtp host required")
)

// Notifier sends one message per call.
type Notifier interface {
	Send(ctx context.Context, p product.Product) error
}

// Config configures the email notifier.
//
// TLSMode: "starttls" (default, used when offered), "implicit" (port 465
// style), or "none".
type Config struct {
	From   string
	To     []string
	DryRun bool

	SMTPHost string
	SMTPPort int
	Username string
	Password string
	TLSMode  string
	HeloName string

	Subject string // text/template; see Message
	Body    string // text/template; see Message

	RatePerSec  float64
	DialTimeout time.Duration
}

// Message is the template data for Subject and Body.
type Message struct {
	ProductName string
	Store       string
	URL         string
}
