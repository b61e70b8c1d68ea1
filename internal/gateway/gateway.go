// Package gateway defines the interface for outbound mail delivery backends.
package gateway

import "context"

// Result is the outcome of one delivery attempt. Failures are values, not
// errors: the SMTP session must always be able to render a reply line, so
// nothing a gateway does may escape as a panic or error.
type Result struct {
	// Accepted is true if the upstream API took the message.
	Accepted bool

	// MessageID is the upstream identifier of the accepted message.
	MessageID string

	// Reason describes a rejected delivery. It must be safe to echo to an
	// untrusted SMTP client: no credentials, no authorization material.
	Reason string
}

// Accepted returns a successful Result carrying the upstream message id.
func Accepted(messageID string) Result {
	return Result{Accepted: true, MessageID: messageID}
}

// Rejected returns a failed Result carrying a client-safe diagnostic.
func Rejected(reason string) Result {
	return Result{Reason: reason}
}

// Gateway is the interface outbound delivery backends must implement.
// A gateway performs at most one outbound call per invocation; it does not
// retry and keeps no per-message state.
type Gateway interface {
	// Send delivers one raw message claimed to be from sender. The raw bytes
	// are the complete MIME message as submitted, passed through untouched.
	Send(ctx context.Context, sender string, recipients []string, raw []byte) Result

	// Name returns the human-readable name of this gateway.
	Name() string
}
