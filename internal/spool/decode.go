package spool

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/aristath/tradeinbox/internal/domain"
	"golang.org/x/net/html/charset"
)

// maxMessageBytes bounds one decoded message
const maxMessageBytes = 10 << 20

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

// Decode reads an RFC 5322 message and returns its subject, sender,
// message id, date and the first text/plain and text/html bodies.
func Decode(r io.Reader) (domain.RawEmail, error) {
	msg, err := mail.ReadMessage(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return domain.RawEmail{}, fmt.Errorf("failed to read message: %w", err)
	}

	raw := domain.RawEmail{
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: strings.TrimSpace(msg.Header.Get("Message-Id")),
	}
	if from := msg.Header.Get("From"); from != "" {
		if addr, err := mail.ParseAddress(decodeHeader(from)); err == nil {
			raw.FromAddress = addr.Address
		} else {
			raw.FromAddress = strings.TrimSpace(from)
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		raw.ReceivedAt = date.UTC()
	}

	if err := readPart(msg.Header, msg.Body, &raw, 0); err != nil {
		return domain.RawEmail{}, err
	}
	if strings.TrimSpace(raw.TextBody) == "" && strings.TrimSpace(raw.HTMLBody) == "" {
		return domain.RawEmail{}, fmt.Errorf("message %s has no text or html body", raw.MessageID)
	}
	return raw, nil
}

// partHeader is the subset of headers a MIME part is decoded by
type partHeader interface {
	Get(key string) string
}

// readPart walks one MIME part, descending into multiparts. Attachments
// and non-text parts are ignored.
func readPart(h partHeader, body io.Reader, raw *domain.RawEmail, depth int) error {
	if depth > 8 {
		return nil
	}

	contentType := h.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read multipart body: %w", err)
			}
			if err := readPart(part.Header, part, raw, depth+1); err != nil {
				return err
			}
		}
	}

	if disposition, _, _ := mime.ParseMediaType(h.Get("Content-Disposition")); disposition == "attachment" {
		return nil
	}

	switch mediaType {
	case "text/plain":
		if raw.TextBody != "" {
			return nil
		}
		text, err := decodeBody(h, params, body)
		if err != nil {
			return err
		}
		raw.TextBody = text
	case "text/html":
		if raw.HTMLBody != "" {
			return nil
		}
		html, err := decodeBody(h, params, body)
		if err != nil {
			return err
		}
		raw.HTMLBody = html
	}
	return nil
}

// decodeBody undoes the transfer encoding and converts the charset to UTF-8
func decodeBody(h partHeader, params map[string]string, body io.Reader) (string, error) {
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "quoted-printable":
		body = quotedprintable.NewReader(body)
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, body)
	}

	if label := params["charset"]; label != "" && !strings.EqualFold(label, "utf-8") && !strings.EqualFold(label, "us-ascii") {
		converted, err := charset.NewReaderLabel(label, body)
		if err == nil {
			body = converted
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	return buf.String(), nil
}

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(decoded)
}
