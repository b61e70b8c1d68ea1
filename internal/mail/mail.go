// Package mail provides small helpers for the raw messages the relay
// forwards. The relay never rewrites a message; it only peeks at headers for
// logging and assembles minimal messages for the one-shot sender.
package mail

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
)

// noSubject is logged when a message has no usable Subject header.
const noSubject = "(no subject)"

// Subject returns the Subject header of a raw message for logging purposes.
// Unparseable messages are not an error here; the payload is forwarded
// verbatim either way.
func Subject(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return noSubject
	}

	subject := strings.TrimSpace(msg.Header.Get("Subject"))
	if subject == "" {
		return noSubject
	}
	return subject
}

// BuildText assembles a complete text/plain message with CRLF line endings,
// suitable for the Gmail raw-send API.
func BuildText(from, to, subject, body string) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")

	// Normalize whatever line endings the caller used to CRLF.
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\r\n") {
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}
