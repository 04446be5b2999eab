// Package mailer implements the work function that mails a compressed
// archive to a recipient.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/TTT3216/ic2/internal/work"
)

// DefaultArchiveName is used when the upload carried no filename.
const DefaultArchiveName = "compressed_images.zip"

const (
	subject = "Your compressed images"
	body    = "Thank you for using the image compression service.\n\n" +
		"Your compressed images are attached to this message."

	dialTimeout = 30 * time.Second
)

// ErrNoCredentials is returned when no SMTP account is configured.
var ErrNoCredentials = errors.New("smtp credentials not configured")

// Request is the input of the mail work function.
type Request struct {
	To          string `json:"to"`
	ArchiveName string `json:"archive_name"`
	Archive     []byte `json:"archive"`
}

// Encode serializes r as work function input.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPConfig describes the outgoing mail server. Port 465 uses implicit TLS.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Configured reports whether credentials are present.
func (c SMTPConfig) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// SMTPSender sends messages through an authenticated SMTP server. A new
// connection is made for every message.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send dials the server and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(dialTimeout),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Mailer is the mail work function.
type Mailer struct {
	from   string
	sender Sender
	log    logrus.FieldLogger
}

var _ work.Func = (*Mailer)(nil)

// New creates a Mailer sending as from. With an empty from or a nil sender
// every task fails with ErrNoCredentials.
func New(from string, sender Sender, log logrus.FieldLogger) *Mailer {
	return &Mailer{from: from, sender: sender, log: log}
}

// Execute mails the archive in a JSON encoded Request.
func (m *Mailer) Execute(ctx context.Context, input []byte) (work.Output, error) {
	if m.from == "" || m.sender == nil {
		return work.Output{}, ErrNoCredentials
	}

	var req Request
	if err := json.Unmarshal(input, &req); err != nil {
		return work.Output{}, fmt.Errorf("decode mail request: %w", err)
	}

	msg, err := m.Compose(req)
	if err != nil {
		return work.Output{}, err
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return work.Output{}, err
	}

	m.log.WithFields(logrus.Fields{
		"to":      req.To,
		"archive": req.ArchiveName,
		"bytes":   len(req.Archive),
	}).Info("mail sent")
	return work.Output{Message: "mail sent to " + req.To}, nil
}

// Compose builds the message for req.
func (m *Mailer) Compose(req Request) (*mail.Msg, error) {
	if req.To == "" {
		return nil, errors.New("no recipient address")
	}
	name := req.ArchiveName
	if name == "" {
		name = DefaultArchiveName
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(req.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if err := msg.AttachReader(name, bytes.NewReader(req.Archive)); err != nil {
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	return msg, nil
}
