// Package mimeparse decodes raw RFC 822 bytes into the structured shape the
// sync pipeline consumes.
package mimeparse

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/vdavid/maildeck/internal/models"
)

// ParsedAttachment is one decoded attachment part.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Size        int64
	ContentID   string
}

// ParsedMessage is the structured form of one raw message.
type ParsedMessage struct {
	MessageID   string
	InReplyTo   string
	References  []string
	From        models.Address
	To          []models.Address
	Cc          []models.Address
	Subject     string
	Date        time.Time
	TextBody    string
	HTMLBody    string
	Attachments []ParsedAttachment
}

// Parse decodes raw RFC 822 bytes. Missing headers degrade instead of
// failing: a missing subject becomes "(no subject)", a missing date becomes
// the current time.
func Parse(raw []byte) (*ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &ParsedMessage{
		MessageID:  trimAngles(env.GetHeader("Message-Id")),
		InReplyTo:  trimAngles(env.GetHeader("In-Reply-To")),
		References: splitReferences(env.GetHeader("References")),
		Subject:    env.GetHeader("Subject"),
		TextBody:   env.Text,
		HTMLBody:   env.HTML,
	}

	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}

	if from := parseAddressList(env.GetHeader("From")); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = parseAddressList(env.GetHeader("To"))
	msg.Cc = parseAddressList(env.GetHeader("Cc"))

	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil && !date.IsZero() {
		msg.Date = date.UTC()
	} else {
		msg.Date = time.Now().UTC()
	}

	for _, part := range env.Attachments {
		msg.Attachments = append(msg.Attachments, ParsedAttachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
			Size:        int64(len(part.Content)),
			ContentID:   part.ContentID,
		})
	}

	return msg, nil
}

// splitReferences handles both whitespace-separated lists and singletons.
func splitReferences(header string) []string {
	if header == "" {
		return nil
	}
	var refs []string
	for _, field := range strings.Fields(header) {
		if ref := trimAngles(field); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

// parseAddressList is tolerant of malformed address headers: anything the
// stdlib parser rejects is kept as a bare address string.
func parseAddressList(header string) []models.Address {
	if strings.TrimSpace(header) == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(header)
	if err != nil {
		return []models.Address{{Addr: strings.TrimSpace(header)}}
	}

	addrs := make([]models.Address, 0, len(parsed))
	for _, a := range parsed {
		addrs = append(addrs, models.Address{Addr: a.Address, Name: a.Name})
	}
	return addrs
}
