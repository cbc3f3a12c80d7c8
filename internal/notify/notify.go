// Package notify delivers account emails, either directly over SMTP or via a
// message queue drained by a worker process.
package notify

import (
	"context"
	"errors"
)

// Kind labels a message for routing and dead-letter inspection.
type Kind string

const (
	KindVerificationCode  Kind = "verification_code"
	KindResetLink         Kind = "reset_link"
	KindResetConfirmation Kind = "reset_confirmation"
	KindWelcome           Kind = "welcome"
)

// ErrDelivery wraps every failure to hand a message to the transport.
var ErrDelivery = errors.New("notification delivery failed")

// Message is a rendered email.
type Message struct {
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (m Message) validate() error {
	if m.To == "" {
		return errors.New("message recipient is required")
	}
	if m.Subject == "" {
		return errors.New("message subject is required")
	}
	if m.HTML == "" && m.Text == "" {
		return errors.New("message body is required")
	}
	return nil
}

// Dispatcher sends a message. Implementations return errors wrapping ErrDelivery.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}
