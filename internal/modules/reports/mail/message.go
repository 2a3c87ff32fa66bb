// Package mail composes report notification emails and delivers them through
// SES or plain SMTP.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultSenderName = "Kloo"
	XLSXContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	base64LineLength  = 76
)

var (
	ErrNoSender     = errors.New("message has no sender")
	ErrNoRecipients = errors.New("message has no recipients")
)

// Sender delivers a message and returns the identifier the transport
// assigned to it.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Attachment is a file carried base64-encoded in the message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a plain-text email with optional attachments.
type Message struct {
	ID          string
	From        string
	FromName    string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Build renders the message as RFC 5322 bytes: a multipart/mixed envelope
// holding a multipart/alternative text part followed by the attachments.
// An empty ID is filled with a generated Message-ID.
func (m *Message) Build() ([]byte, error) {
	if m.From == "" {
		return nil, ErrNoSender
	}
	if len(m.To) == 0 {
		return nil, ErrNoRecipients
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(m.From))
	}

	var body bytes.Buffer
	mixed := multipart.NewWriter(&body)

	if err := m.writeText(mixed); err != nil {
		return nil, err
	}
	for _, att := range m.Attachments {
		if err := writeAttachment(mixed, att); err != nil {
			return nil, fmt.Errorf("attach %s: %w", att.Filename, err)
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}

	fromName := m.FromName
	if fromName == "" {
		fromName = DefaultSenderName
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Message-ID: %s\r\n", m.ID)
	fmt.Fprintf(&out, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), m.From)
	fmt.Fprintf(&out, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/mixed; boundary=%q\r\n", mixed.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

func (m *Message) writeText(mixed *multipart.Writer) error {
	var alt bytes.Buffer
	alternative := multipart.NewWriter(&alt)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := alternative.CreatePart(textHeader)
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(m.Body)); err != nil {
		return err
	}
	if err := qp.Close(); err != nil {
		return err
	}
	if err := alternative.Close(); err != nil {
		return err
	}

	altHeader := textproto.MIMEHeader{}
	altHeader.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alternative.Boundary()))
	altPart, err := mixed.CreatePart(altHeader)
	if err != nil {
		return err
	}
	_, err = altPart.Write(alt.Bytes())
	return err
}

func writeAttachment(mixed *multipart.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

	part, err := mixed.CreatePart(header)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(att.Data)
	for i := 0; i < len(encoded); i += base64LineLength {
		end := min(i+base64LineLength, len(encoded))
		if _, err := part.Write([]byte(encoded[i:end] + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}

func senderDomain(addr string) string {
	if _, domain, ok := strings.Cut(addr, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}
