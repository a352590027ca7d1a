// Package mail sends job notification emails over authenticated SMTP with
// implicit TLS.
package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// Mailer is an SMTP transport bound to a fixed sender address. It is
// immutable after construction and safe for concurrent use.
type Mailer struct {
	client *gomail.Client
	from   string
}

// New builds a Mailer for the given SMTP relay. The connection uses
// implicit TLS on the given port and authenticates with SMTP AUTH.
func New(server string, port int, username, password, from string) (*Mailer, error) {
	client, err := gomail.NewClient(server,
		gomail.WithPort(port),
		gomail.WithSSL(),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(username),
		gomail.WithPassword(password),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mail transport: %w", err)
	}

	return &Mailer{client: client, from: from}, nil
}

// Send transmits a plain-text message to a single recipient. The From
// header is always "minicd <from-address>".
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMsg()

	if err := msg.FromFormat("minicd", m.from); err != nil {
		return fmt.Errorf("parsing from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("parsing recipient address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}
