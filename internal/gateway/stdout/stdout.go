// Package stdout implements a Gateway that prints accepted mail to standard
// output instead of calling the Gmail API. Used for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gmailtools/smtp-relay/internal/gateway"
)

// Gateway prints envelopes to stdout and accepts everything with a
// synthetic message id.
type Gateway struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	seq    atomic.Uint64
}

// New creates a stdout Gateway that writes to os.Stdout.
func New() *Gateway {
	return &Gateway{writer: os.Stdout}
}

// NewWithWriter creates a stdout Gateway that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Gateway {
	return &Gateway{writer: w}
}

// Send prints the envelope and raw message in a readable format and accepts
// it with a locally generated message id.
func (g *Gateway) Send(_ context.Context, sender string, recipients []string, raw []byte) gateway.Result {
	id := fmt.Sprintf("dry-run-%d", g.seq.Add(1))

	var b strings.Builder
	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", sender))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(recipients, ", ")))
	b.WriteString(fmt.Sprintf("Message-ID: %s\n", id))
	b.WriteString("Raw message:\n")
	b.Write(raw)
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("========================================\n")

	fmt.Fprint(g.writer, b.String())

	return gateway.Accepted(id)
}

// Name returns the gateway name.
func (g *Gateway) Name() string {
	return "stdout"
}
