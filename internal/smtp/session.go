package smtp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gmailtools/smtp-relay/internal/gateway"
	"github.com/gmailtools/smtp-relay/internal/mail"
	"github.com/gmailtools/smtp-relay/internal/policy"
)

// Transaction states for the SMTP state machine. The connection itself has
// no state beyond its transaction: a greeting is accepted but never required,
// so MAIL may follow the banner directly.
const (
	stateIdle = iota
	stateHaveSender
	stateHaveRecipients
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	policy   *policy.Policy
	gateway  gateway.Gateway
	hostname string

	// maxSize caps the DATA payload in bytes; zero means no cap.
	maxSize int64

	// timeout is the per-read deadline, refreshed for every command and
	// every DATA line so slow-but-live clients are not cut off.
	timeout time.Duration

	// env is the active transaction, nil while idle.
	env *Envelope
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, pol *policy.Policy, gw gateway.Gateway, hostname string, maxSize int64) *Session {
	return &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		state:    stateIdle,
		policy:   pol,
		gateway:  gw,
		hostname: hostname,
		maxSize:  maxSize,
		timeout:  idleTimeout,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP smtp-relay", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			slog.Debug("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		done := s.handleCommand(ctx, cmd, arg)
		if done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the
// session should end. Unrecognized input gets its reply but is kept out of
// the logs: stray HTTP requests hitting the listener are routine.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		slog.Debug("unrecognised command", "command", cmd)
		s.writeLine("500 Command not recognised")
	}
	return false
}

// handleEHLO processes EHLO/HELO commands. Greeting is optional for this
// relay, so the only effect is the reply itself.
func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.maxSize > 0 {
		s.writeLine("250-SIZE %d", s.maxSize)
	}
	s.writeLine("250 OK")
}

// handleMAIL processes the MAIL FROM command. The address is extracted
// syntactically only; authorization happens at DATA time so the sender
// policy runs once per message, not per command.
func (s *Session) handleMAIL(arg string) {
	if s.state != stateIdle {
		s.writeLine("503 Error: nested MAIL command")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	// The null reverse-path MAIL FROM:<> is syntactically valid (bounces
	// use it); the policy and gateway deal with it at DATA time.
	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.env = &Envelope{Sender: addr}
	s.state = stateHaveSender
	s.writeLine("250 OK")
}

// handleRCPT processes the RCPT TO command. Duplicates are permitted and
// submission order is preserved.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateHaveSender {
		s.writeLine("503 Error: need MAIL command")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.env.Recipients = append(s.env.Recipients, addr)
	s.state = stateHaveRecipients
	s.writeLine("250 OK")
}

// handleDATA processes the DATA command: accumulate the message until the
// end-of-data marker, then run the sender policy and hand the envelope to
// the gateway. Whatever happens, the transaction ends idle and the client
// gets a reply; only a transport-level failure closes the connection.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state != stateHaveRecipients {
		s.writeLine("503 Error: need RCPT command")
		s.resetTransaction()
		return
	}

	s.writeLine("354 End data with <CR><LF>.<CR><LF>")

	var buf bytes.Buffer
	tooLarge := false
	for {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			slog.Debug("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Debug("error reading DATA", "error", err)
			return
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}

		// Dot-stuffing: lines starting with ".." have the leading dot removed
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		if s.maxSize > 0 && int64(buf.Len()+len(line)) > s.maxSize {
			// Keep draining to the terminator so the reply lands on the
			// right command, but stop accumulating.
			tooLarge = true
			continue
		}
		buf.WriteString(line)
	}

	if tooLarge {
		s.writeLine("552 Message size exceeds fixed maximum message size")
		s.resetTransaction()
		return
	}

	env := s.env
	env.Data = buf.Bytes()

	if !s.policy.Allow(env.Sender) {
		slog.Info("sender rejected by policy", "sender", env.Sender)
		s.writeLine("550 Sender domain not allowed: %s", env.Sender)
		s.resetTransaction()
		return
	}

	slog.Info("incoming message",
		"sender", env.Sender,
		"recipients", env.Recipients,
		"subject", mail.Subject(env.Data),
		"size", len(env.Data),
	)

	// The serve context ends the moment shutdown begins, but an outbound
	// call already issued must be allowed to complete or fail on its own;
	// aborting here would return a permanent-looking failure for a message
	// whose upstream fate is unknown.
	res := s.gateway.Send(context.WithoutCancel(ctx), env.Sender, env.Recipients, env.Data)
	if res.Accepted {
		slog.Info("message sent",
			"gateway", s.gateway.Name(),
			"sender", env.Sender,
			"message_id", res.MessageID,
		)
		s.writeLine("250 Message accepted for delivery")
	} else {
		slog.Warn("message send failed",
			"gateway", s.gateway.Name(),
			"sender", env.Sender,
			"reason", res.Reason,
		)
		s.writeLine("550 Failed to send: %s", res.Reason)
	}

	s.resetTransaction()
}

// resetTransaction discards the active envelope and returns to idle.
func (s *Session) resetTransaction() {
	s.env = nil
	s.state = stateIdle
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	_, err := s.writer.WriteString(line + "\r\n")
	if err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats. The address may be empty
// (the null reverse-path "<>"); ok is false only for unparseable input.
func extractAddress(s string) (addr string, ok bool) {
	s = strings.TrimSpace(s)

	// Handle angle-bracket format: <user@example.com>
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	if s == "" {
		return "", false
	}

	// Bare address format, possibly followed by ESMTP parameters
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return s, true
}
