package core

import (
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultKeySetTTL bounds how long a fetched key set is served without
	// a re-fetch.
	DefaultKeySetTTL = 3600 * time.Second

	// DefaultTokenTTL is the lifetime stamped on minted tokens when the
	// issuer config leaves TTL unset.
	DefaultTokenTTL = time.Hour
)

// VerifyConfig configures token verification against a remote key set.
type VerifyConfig struct {
	// JWKSURL is the provider's published key-set endpoint.
	JWKSURL string

	// CacheTTL controls key-set staleness. Zero means DefaultKeySetTTL.
	CacheTTL time.Duration

	// Issuer, when set, must equal the token's iss claim.
	Issuer string

	// Audience, when set, must appear in the token's aud claim.
	Audience string

	// Leeway tolerates clock skew on temporal claims. Zero keeps the strict
	// reading: a token is rejected the moment its expiry passes.
	Leeway time.Duration
}

func (c VerifyConfig) Validate() error {
	u := strings.TrimSpace(c.JWKSURL)
	if u == "" {
		return &ConfigurationError{Reason: "verify: JWKS URL is required"}
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ConfigurationError{Reason: "verify: JWKS URL is not absolute", Err: err}
	}
	if c.CacheTTL < 0 {
		return &ConfigurationError{Reason: "verify: cache TTL must not be negative"}
	}
	if c.Leeway < 0 {
		return &ConfigurationError{Reason: "verify: leeway must not be negative"}
	}
	return nil
}

// IssuerMode selects which issuer implementation is built at startup.
type IssuerMode string

const (
	IssuerModeLocal     IssuerMode = "local"
	IssuerModeDelegated IssuerMode = "delegated"
)

// LocalKeys is the provided-key branch of local issuance. Leaving it nil (or
// the private key empty) switches the local issuer to ephemeral generated
// keys, which is a development convenience and never a production default.
type LocalKeys struct {
	// KeyID names the pair in token headers and the published key set.
	KeyID string

	// PrivateKeyPEM holds the signing key, raw PEM or base64-wrapped PEM.
	PrivateKeyPEM string

	// PublicKeyPEM is optional; when present it is checked against the
	// private key at startup so a mismatched pair cannot boot.
	PublicKeyPEM string
}

// TrustService locates the remote signing service for delegated issuance.
type TrustService struct {
	BaseURL  string
	SignPath string
	APIToken string
}

// IssueConfig is a tagged variant: Mode picks exactly one branch, fixed at
// startup.
type IssueConfig struct {
	Mode IssuerMode

	// Issuer is stamped into the iss claim of every minted token.
	Issuer string

	// TTL is the minted token lifetime. Zero means DefaultTokenTTL.
	TTL time.Duration

	Local     *LocalKeys    // Mode == IssuerModeLocal
	Delegated *TrustService // Mode == IssuerModeDelegated
}

func (c IssueConfig) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return &ConfigurationError{Reason: "issue: issuer name is required"}
	}
	if c.TTL < 0 {
		return &ConfigurationError{Reason: "issue: ttl must not be negative"}
	}
	switch c.Mode {
	case IssuerModeLocal:
		if c.Local != nil && c.Local.PrivateKeyPEM != "" && strings.TrimSpace(c.Local.KeyID) == "" {
			return &ConfigurationError{Reason: "issue: provided keys need a key id"}
		}
	case IssuerModeDelegated:
		if c.Delegated == nil || strings.TrimSpace(c.Delegated.BaseURL) == "" {
			return &ConfigurationError{Reason: "issue: delegated mode needs a trust service base URL"}
		}
		if u, err := url.Parse(c.Delegated.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigurationError{Reason: "issue: trust service base URL is not absolute", Err: err}
		}
	default:
		return &ConfigurationError{Reason: "issue: mode must be local or delegated"}
	}
	return nil
}

// TokenTTL returns the configured lifetime with the default applied.
func (c IssueConfig) TokenTTL() time.Duration {
	if c.TTL <= 0 {
		return DefaultTokenTTL
	}
	return c.TTL
}

// MiddlewareConfig shapes per-request authentication.
type MiddlewareConfig struct {
	// PublicPaths lists glob patterns exempt from authentication, e.g.
	// "/api/public/**". A `*` matches within one path segment, `**` matches
	// any number of segments.
	PublicPaths []string

	// CookieName enables cookie mode: the named cookie is consulted before
	// the Authorization header. Empty means header-only mode, in which
	// cookies are ignored entirely.
	CookieName string
}

func (c MiddlewareConfig) Validate() error {
	for _, p := range c.PublicPaths {
		if strings.TrimSpace(p) == "" {
			return &ConfigurationError{Reason: "middleware: empty public path pattern"}
		}
	}
	return nil
}
