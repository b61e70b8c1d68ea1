package gmail

import (
	"regexp"
	"strings"
)

// Diagnostic text from the token endpoint or the Gmail API can embed
// authorization material (bearer tokens, signed assertions). Everything a
// Rejected result carries ends up on the SMTP reply line, so it is scrubbed
// here before leaving the gateway.
var (
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	tokenPattern     = regexp.MustCompile(`ya29\.[0-9A-Za-z_-]+`)
	assertionPattern = regexp.MustCompile(`assertion=[^&\s]+`)
)

// sanitize strips credential material from a diagnostic and flattens it to a
// single line suitable for an SMTP reply.
func sanitize(text, accessToken string) string {
	if accessToken != "" {
		text = strings.ReplaceAll(text, accessToken, "[redacted]")
	}

	text = bearerPattern.ReplaceAllString(text, "Bearer [redacted]")
	text = tokenPattern.ReplaceAllString(text, "[redacted]")
	text = assertionPattern.ReplaceAllString(text, "assertion=[redacted]")

	// SMTP replies are single lines.
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Join(strings.Fields(text), " ")
}
