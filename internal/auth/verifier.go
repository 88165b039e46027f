// Package auth verifies operator and subscriber bearer tokens.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orderhub/internal/config"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleBranch   = "branch"
)

// Principal is the verified caller.
type Principal struct {
	Subject  string
	TenantID string
	Role     string
	BranchID string
}

// Privileged reports whether the principal may act on every branch of its tenant.
func (p Principal) Privileged() bool { return p.Role == RoleAdmin || p.Role == RoleOperator }

// Verifier validates JWTs and extracts tenant/role/branch claims.
// Supports modes: dev (no verify), hmac (HS256), jwks (RS256 from JWKS URL).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	JWKSURL     string
	TenantClaim string
	RoleClaim   string
	BranchClaim string
	http        *http.Client
	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetch   time.Time
	cacheTTL    time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

var ErrUnauthorized = errors.New("unauthorized")

func NewVerifier(cfg config.AuthConfig) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(cfg.HMACSecret),
		JWKSURL:     cfg.JWKSURL,
		TenantClaim: or(cfg.TenantClaim, "tenant"),
		RoleClaim:   or(cfg.RoleClaim, "role"),
		BranchClaim: or(cfg.BranchClaim, "branch"),
		http:        &http.Client{Timeout: 5 * time.Second},
		cacheTTL:    10 * time.Minute,
	}
}

func or(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

// Verify checks token and returns its principal. Errors wrap ErrUnauthorized.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if v.Mode == "dev" {
		// token format: tenant:role[:branch]
		parts := strings.Split(token, ":")
		if len(parts) < 2 || parts[0] == "" {
			return Principal{}, fmt.Errorf("%w: invalid dev token; expected tenant:role[:branch]", ErrUnauthorized)
		}
		p := Principal{Subject: parts[0] + ":" + parts[1], TenantID: parts[0], Role: strings.ToLower(parts[1])}
		if len(parts) > 2 {
			p.BranchID = parts[2]
		}
		return p, nil
	}

	var opts []jwt.ParserOption
	var keyFunc jwt.Keyfunc
	switch v.Mode {
	case "hmac":
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case "jwks":
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.publicKey(kid)
		}
	default:
		return Principal{}, fmt.Errorf("%w: unsupported auth mode %q", ErrUnauthorized, v.Mode)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	branch, _ := claims[v.BranchClaim].(string)
	sub, _ := claims.GetSubject()
	if tenant == "" {
		return Principal{}, fmt.Errorf("%w: missing tenant claim", ErrUnauthorized)
	}
	if role == "" {
		role = RoleBranch
	}
	return Principal{Subject: sub, TenantID: tenant, Role: strings.ToLower(role), BranchID: branch}, nil
}

// publicKey returns the RSA key for kid, refetching the JWKS when the cache
// is stale or the kid is unknown.
func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("jwks url not configured")
	}
	resp, err := v.http.Get(v.JWKSURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return fmt.Errorf("jwks key %s: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return fmt.Errorf("jwks key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

// FromRequest verifies the bearer token of r.
func (v *Verifier) FromRequest(r *http.Request) (Principal, error) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return Principal{}, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return v.Verify(authz[len("Bearer "):])
}
