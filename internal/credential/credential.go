// Package credential loads the Gmail service account signing key and derives
// short-lived delegated credentials for individual Workspace users.
package credential

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// mailScope is the Gmail scope granted to the service account via
// domain-wide delegation in the Google Admin console.
const mailScope = "https://mail.google.com/"

// Credential is the long-lived service account signing identity, loaded once
// at startup. It is immutable and safe for concurrent use.
type Credential struct {
	conf *jwt.Config
}

// Load reads and validates a service account key file. The file is an opaque
// JSON document containing the signing key, the account email, and the token
// endpoint; a missing or malformed file is unrecoverable for the relay.
func Load(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account key %s: %w", path, err)
	}

	conf, err := google.JWTConfigFromJSON(data, mailScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key %s: %w", path, err)
	}

	if conf.Email == "" {
		return nil, fmt.Errorf("service account key %s has no client_email", path)
	}
	if err := validateSigningKey(conf.PrivateKey); err != nil {
		return nil, fmt.Errorf("service account key %s: %w", path, err)
	}

	return &Credential{conf: conf}, nil
}

// Email returns the service account's client email, for startup logging.
func (c *Credential) Email() string {
	return c.conf.Email
}

// Delegate binds the credential to one impersonation subject. The derivation
// is value-based: the long-lived credential is never mutated, so Delegate may
// be called concurrently from any number of sends.
func (c *Credential) Delegate(sender string) *Delegated {
	conf := *c.conf
	conf.Subject = sender
	return &Delegated{conf: conf}
}

// Delegated is a credential scoped to act as a single Workspace user.
// Its lifetime is one outbound send.
type Delegated struct {
	conf jwt.Config
}

// Subject returns the impersonated user address.
func (d *Delegated) Subject() string {
	return d.conf.Subject
}

// TokenSource returns a token source performing the two-legged JWT grant for
// the impersonated subject. No network I/O happens until Token is called.
func (d *Delegated) TokenSource(ctx context.Context) oauth2.TokenSource {
	return d.conf.TokenSource(ctx)
}

// validateSigningKey checks that the key material is present and is a
// parseable RSA private key, so a broken key file fails the process at
// startup instead of on the first send.
func validateSigningKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("missing private_key")
	}

	block, _ := pem.Decode(key)
	if block == nil {
		return fmt.Errorf("private_key is not PEM encoded")
	}

	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return nil
	}

	return fmt.Errorf("private_key is not a valid RSA key")
}
