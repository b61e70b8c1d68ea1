// Package gmail implements a Gateway that sends mail via the Gmail API using
// a service account with domain-wide delegation.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/gmailtools/smtp-relay/internal/credential"
	"github.com/gmailtools/smtp-relay/internal/gateway"
)

// sendURLFormat is the Gmail raw-send endpoint; the path segment is the
// impersonated user, which also becomes the authenticated sender.
const sendURLFormat = "https://gmail.googleapis.com/gmail/v1/users/%s/messages/send"

// requestTimeout bounds one outbound send, token grant included.
const requestTimeout = 30 * time.Second

// Gateway sends raw messages through the Gmail API, impersonating the
// claimed sender via a delegated service account credential. One invocation
// performs exactly one send call; there is no retry and no queueing.
type Gateway struct {
	creds      *credential.Credential
	sendURL    string
	httpClient *http.Client
}

// New creates a Gateway backed by the given service account credential.
func New(creds *credential.Credential) *Gateway {
	return &Gateway{
		creds:      creds,
		sendURL:    sendURLFormat,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// newWithOverrides creates a Gateway with a custom endpoint and HTTP client,
// used for testing.
func newWithOverrides(creds *credential.Credential, sendURL string, client *http.Client) *Gateway {
	return &Gateway{
		creds:      creds,
		sendURL:    sendURL,
		httpClient: client,
	}
}

// sendRequest is the Gmail users.messages.send body for a raw message.
type sendRequest struct {
	Raw string `json:"raw"`
}

// sendResponse is the subset of the Gmail send response we care about.
type sendResponse struct {
	ID string `json:"id"`
}

// apiErrorResponse is the standard Google API error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Send delivers one raw message as the claimed sender. Every failure mode
// degrades to a Rejected result with a sanitized diagnostic; recipients ride
// inside the raw message headers, so the Gmail API only needs the sender.
func (g *Gateway) Send(ctx context.Context, sender string, recipients []string, raw []byte) gateway.Result {
	// The token grant goes through the same client as the send call.
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.creds.Delegate(sender).TokenSource(tokenCtx).Token()
	if err != nil {
		slog.Warn("delegated token grant failed", "sender", sender)
		return gateway.Rejected(sanitize(fmt.Sprintf("authorization failed for %s: %v", sender, err), ""))
	}

	body, err := json.Marshal(sendRequest{
		Raw: base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return gateway.Rejected(fmt.Sprintf("failed to encode message: %v", err))
	}

	endpoint := fmt.Sprintf(g.sendURL, url.PathEscape(sender))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gateway.Rejected(sanitize(fmt.Sprintf("failed to create request: %v", err), token.AccessToken))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Warn("Gmail API request failed", "sender", sender)
		return gateway.Rejected(sanitize(fmt.Sprintf("Gmail API request failed: %v", err), token.AccessToken))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Rejected(sanitize(fmt.Sprintf("failed to read Gmail API response: %v", err), token.AccessToken))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gateway.Rejected(sanitize(apiError(resp.StatusCode, respBody), token.AccessToken))
	}

	var sent sendResponse
	if err := json.Unmarshal(respBody, &sent); err != nil || sent.ID == "" {
		// The API said yes but the body is unusable; the message is out.
		slog.Warn("Gmail API accepted message but returned unexpected body",
			"sender", sender,
			"status", resp.StatusCode,
		)
		return gateway.Accepted("unknown")
	}

	return gateway.Accepted(sent.ID)
}

// Name returns the gateway name.
func (g *Gateway) Name() string {
	return "gmail"
}

// apiError renders a non-2xx Gmail API response into a short diagnostic,
// preferring the structured error message when the body parses.
func apiError(statusCode int, body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Sprintf("Gmail API error (HTTP %d): %s", statusCode, apiErr.Error.Message)
	}
	return fmt.Sprintf("Gmail API error (HTTP %d): %s", statusCode, string(body))
}
