// Package main is a one-shot sender: it delivers a single message through
// the Gmail API as any user in the Workspace domain, without going through
// the SMTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gmailtools/smtp-relay/internal/credential"
	"github.com/gmailtools/smtp-relay/internal/gateway/gmail"
	"github.com/gmailtools/smtp-relay/internal/mail"
)

// sendTimeout bounds the whole one-shot operation.
const sendTimeout = 60 * time.Second

func main() {
	from := flag.String("from", "", "sender address (user to impersonate in your domain)")
	to := flag.String("to", "", "recipient address")
	subject := flag.String("subject", "Test from Service Account", "subject line")
	body := flag.String("body", "Hello! This email was sent via Service Account + Domain-Wide Delegation.", "message body")
	credFile := flag.String("credentials", "gmail_service_account.json", "path to the service account key file")
	flag.Parse()

	_ = godotenv.Load()

	if *from == "" {
		fmt.Fprintln(os.Stderr, "Error: -from is required")
		flag.Usage()
		os.Exit(1)
	}
	if *to == "" {
		fmt.Fprintln(os.Stderr, "Error: -to is required")
		flag.Usage()
		os.Exit(1)
	}

	if v := os.Getenv("GMAIL_CREDENTIALS_FILE"); v != "" && *credFile == "gmail_service_account.json" {
		*credFile = v
	}

	creds, err := credential.Load(*credFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	raw := mail.BuildText(*from, *to, *subject, *body)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	res := gmail.New(creds).Send(ctx, *from, []string{*to}, raw)
	if !res.Accepted {
		fmt.Fprintf(os.Stderr, "Failed to send: %s\n", res.Reason)
		os.Exit(1)
	}

	fmt.Printf("Message sent from %s to %s (id: %s)\n", *from, *to, res.MessageID)
}
