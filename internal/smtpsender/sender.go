// Package smtpsender renders outgoing drafts as MIME and submits them over
// SMTP. Failures are surfaced to the caller without retry; the outbox state
// machine decides disposition.
package smtpsender

import (
	"bytes"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jordan-wright/email"

	"github.com/vdavid/maildeck/internal/models"
)

// DefaultAddr is the Gmail SMTP submission endpoint.
const DefaultAddr = "smtp.gmail.com:465"

// Result reports a successful submission.
type Result struct {
	ProviderMessageID string
}

// Sender submits drafts for one account.
type Sender struct {
	addr     string
	username string
	password string
	useTLS   bool

	// signature, when non-empty, is appended to outgoing plain-text bodies.
	signature string
}

// New returns a Sender. useTLS is true for production submission over
// implicit TLS; tests connect to a plaintext in-memory server.
func New(addr, username, password string, useTLS bool) *Sender {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Sender{addr: addr, username: username, password: password, useTLS: useTLS}
}

// SetSignature sets the signature text appended to outgoing bodies.
func (s *Sender) SetSignature(signature string) {
	s.signature = strings.TrimSpace(signature)
}

// Send renders the draft and submits it. The reply threading headers, when
// present, are set verbatim.
func (s *Sender) Send(draft *models.Draft, inReplyTo string, references []string) (*Result, error) {
	msg, messageID, err := s.render(draft, inReplyTo, references)
	if err != nil {
		return nil, err
	}

	raw, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	if err := s.submit(msg.From, append(append([]string{}, draft.To...), draft.Cc...), raw); err != nil {
		return nil, err
	}
	return &Result{ProviderMessageID: messageID}, nil
}

// render builds the MIME message: plain text/plain when there are no
// attachments, multipart/mixed otherwise.
func (s *Sender) render(draft *models.Draft, inReplyTo string, references []string) (*email.Email, string, error) {
	msg := email.NewEmail()
	msg.From = s.username
	msg.To = draft.To
	msg.Cc = draft.Cc
	msg.Subject = draft.Subject

	body := draft.Body
	if s.signature != "" {
		body += "\n\n--\n" + s.signature
	}
	msg.Text = []byte(body)

	messageID := fmt.Sprintf("<%s@maildeck>", uuid.NewString())
	msg.Headers.Set("Message-Id", messageID)
	msg.Headers.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	msg.Headers.Set("MIME-Version", "1.0")

	if inReplyTo != "" {
		msg.Headers.Set("In-Reply-To", "<"+strings.Trim(inReplyTo, "<>")+">")
	}
	if len(references) > 0 {
		formatted := make([]string, 0, len(references))
		for _, ref := range references {
			formatted = append(formatted, "<"+strings.Trim(ref, "<>")+">")
		}
		msg.Headers.Set("References", strings.Join(formatted, " "))
	}

	for _, att := range draft.Attachments {
		f, err := os.Open(att.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open attachment %s: %w", att.Filename, err)
		}
		contentType := att.Mime
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(att.Filename))
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err = msg.Attach(f, att.Filename, contentType)
		_ = f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to attach %s: %w", att.Filename, err)
		}
	}

	return msg, messageID, nil
}

// submit hands the rendered bytes to the provider over SMTP.
func (s *Sender) submit(from string, to []string, raw []byte) error {
	var c *smtp.Client
	var err error
	if s.useTLS {
		c, err = smtp.DialTLS(s.addr, nil)
	} else {
		c, err = smtp.Dial(s.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() {
		_ = c.Close()
	}()

	auth := sasl.NewPlainClient("", s.username, s.password)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	if err := c.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
