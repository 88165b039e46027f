package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"orderhub/internal/apperr"
	"orderhub/internal/config"
)

type SchemeKind string

const (
	SchemeHMACHex    SchemeKind = "hmac-hex"
	SchemeHMACBase64 SchemeKind = "hmac-base64"
	SchemeBearer     SchemeKind = "bearer"
)

// Scheme describes where a provider puts its authentication material and how
// to check it.
type Scheme struct {
	Kind   SchemeKind
	Header string
	// Prefix is stripped (case-insensitively) from the header value, e.g. "sha256=" or "Bearer ".
	Prefix string
}

// SchemeSource resolves the scheme a provider signs with.
type SchemeSource interface {
	SchemeFor(provider string) (Scheme, error)
}

// SecretSource resolves the shared secret for a provider and tenant.
type SecretSource interface {
	Secret(ctx context.Context, provider, tenantID string) (string, error)
}

// Verifier authenticates inbound provider webhooks.
type Verifier struct {
	Schemes SchemeSource
	Secrets SecretSource
}

func NewVerifier(schemes SchemeSource, secrets SecretSource) *Verifier {
	return &Verifier{Schemes: schemes, Secrets: secrets}
}

// Verify checks the request's authentication material against the provider's
// secret. Any failure is an AuthenticationFailed error; the body is only hashed,
// never parsed.
func (v *Verifier) Verify(ctx context.Context, provider, tenantID string, header http.Header, body []byte) error {
	const op = "webhooks.verify"
	scheme, err := v.Schemes.SchemeFor(provider)
	if err != nil {
		return err
	}
	secret, err := v.Secrets.Secret(ctx, provider, tenantID)
	if err != nil {
		return apperr.E(apperr.KindAuthenticationFailed, op, err)
	}
	if secret == "" {
		return apperr.Errorf(apperr.KindAuthenticationFailed, op, "no secret configured for %s", provider)
	}
	provided := strings.TrimSpace(header.Get(scheme.Header))
	if scheme.Prefix != "" && len(provided) >= len(scheme.Prefix) && strings.EqualFold(provided[:len(scheme.Prefix)], scheme.Prefix) {
		provided = strings.TrimSpace(provided[len(scheme.Prefix):])
	}
	if provided == "" {
		return apperr.Errorf(apperr.KindAuthenticationFailed, op, "missing %s header", scheme.Header)
	}

	var ok bool
	switch scheme.Kind {
	case SchemeHMACHex:
		ok = VerifyHMAC(secret, body, provided)
	case SchemeHMACBase64:
		ok = VerifyHMACBase64(secret, body, provided)
	case SchemeBearer:
		ok = VerifyBearer(secret, provided)
	default:
		return apperr.Errorf(apperr.KindAuthenticationFailed, op, "unsupported scheme %q", scheme.Kind)
	}
	if !ok {
		return apperr.Errorf(apperr.KindAuthenticationFailed, op, "signature mismatch")
	}
	return nil
}

// VerifyHMAC checks a hex HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(computeHMAC(secret, body), b)
}

// VerifyHMACBase64 is VerifyHMAC for base64 (std or url alphabet) digests.
func VerifyHMACBase64(secret string, body []byte, provided string) bool {
	b, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		if b, err = base64.RawURLEncoding.DecodeString(provided); err != nil {
			return false
		}
	}
	return hmac.Equal(computeHMAC(secret, body), b)
}

// VerifyBearer compares a static token. Secrets stored as bcrypt hashes are
// checked with bcrypt; plain secrets with a constant-time compare.
func VerifyBearer(secret, provided string) bool {
	if isBcryptHash(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func computeHMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	return fmt.Sprintf("%x", computeHMAC(secret, body))
}

// SignHMACBase64 returns the std base64 HMAC-SHA256 digest.
func SignHMACBase64(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(computeHMAC(secret, body))
}

// ConfigSecrets serves secrets from provider configuration, preferring a
// tenant override over the provider default.
type ConfigSecrets map[string]config.ProviderConfig

func (c ConfigSecrets) Secret(_ context.Context, provider, tenantID string) (string, error) {
	p, ok := c[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", fmt.Errorf("provider %q not configured", provider)
	}
	if s := p.TenantSecrets[tenantID]; s != "" {
		return s, nil
	}
	return p.Secret, nil
}
