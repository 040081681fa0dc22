package jwtkit

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	core "github.com/henrigvs/aidji-boot-sub000/core"
	"github.com/henrigvs/aidji-boot-sub000/keyset"
)

// TokenPayload is the verified content of a token. Extra carries every claim
// that is not mapped to a named field.
type TokenPayload struct {
	Subject     string
	Issuer      string
	Audience    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Authorities []string
	Extra       map[string]any
}

// Verifier checks token signatures against a cached remote key set and
// enforces temporal claims. It never parses a token before the signing key
// is known: the kid is scanned out of the raw header bytes instead.
type Verifier struct {
	keys *keyset.Cache
	cfg  core.VerifyConfig
	log  logrus.FieldLogger
}

// NewVerifier validates cfg and builds a verifier with its own key set cache.
func NewVerifier(cfg core.VerifyConfig, log logrus.FieldLogger) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Verifier{
		keys: keyset.NewCache(cfg.JWKSURL, cfg.CacheTTL, log),
		cfg:  cfg,
		log:  log,
	}, nil
}

// Validate verifies token end to end and returns its payload. Failures are
// typed: core.ErrTokenExpired for a correctly signed token past its expiry,
// core.ErrTokenInvalid for anything structurally or cryptographically wrong,
// and infrastructure errors when the key set cannot be consulted at all.
func (v *Verifier) Validate(ctx context.Context, token string) (*TokenPayload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", core.ErrTokenInvalid)
	}

	segments := strings.Split(token, ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: malformed token", core.ErrTokenInvalid)
	}
	var signature string
	if len(segments) >= 3 {
		signature = segments[2]
	}

	header, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable header", core.ErrTokenInvalid)
	}
	if alg, ok := keyset.ScanString(header, "alg"); ok && alg != "RS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", core.ErrTokenInvalid, alg)
	}
	kid, ok := keyset.ScanString(header, "kid")
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: missing key id", core.ErrTokenInvalid)
	}

	entry, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		if errors.Is(err, keyset.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: unknown key id %q", core.ErrTokenInvalid, kid)
		}
		return nil, err
	}

	if err := verifyRS256(entry.Key, segments[0]+"."+segments[1], signature); err != nil {
		return nil, err
	}

	claims, err := decodeClaims(segments[1])
	if err != nil {
		return nil, err
	}
	return v.payloadFrom(claims)
}

// IsValid reports whether token verifies right now. Every failure class,
// including infrastructure ones, reads as not valid.
func (v *Verifier) IsValid(ctx context.Context, token string) bool {
	_, err := v.Validate(ctx, token)
	return err == nil
}

func verifyRS256(pub *rsa.PublicKey, signingInput, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", core.ErrTokenInvalid)
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", core.ErrTokenInvalid)
	}
	hashed := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		return fmt.Errorf("%w: signature mismatch", core.ErrTokenInvalid)
	}
	return nil
}

func decodeClaims(segment string) (map[string]any, error) {
	payload, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable claims", core.ErrTokenInvalid)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims are not an object", core.ErrTokenInvalid)
	}
	return claims, nil
}

func (v *Verifier) payloadFrom(claims map[string]any) (*TokenPayload, error) {
	now := time.Now()

	// Expiry must lie strictly in the future. A token expiring exactly now
	// is already expired.
	expiresAt, ok := claimTime(claims, "exp")
	if !ok {
		return nil, fmt.Errorf("%w: missing expiry", core.ErrTokenInvalid)
	}
	if !now.Before(expiresAt.Add(v.cfg.Leeway)) {
		return nil, fmt.Errorf("%w: expired at %s", core.ErrTokenExpired, expiresAt.UTC().Format(time.RFC3339))
	}

	issuedAt, hasIat := claimTime(claims, "iat")
	if hasIat && issuedAt.After(now.Add(v.cfg.Leeway)) {
		return nil, fmt.Errorf("%w: issued in the future", core.ErrTokenInvalid)
	}

	issuer := claimString(claims, "iss")
	if v.cfg.Issuer != "" && issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", core.ErrTokenInvalid)
	}
	if v.cfg.Audience != "" && !audienceContains(claims["aud"], v.cfg.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", core.ErrTokenInvalid)
	}

	authorities, err := core.ParseAuthorities(claims["authorities"])
	if err != nil {
		return nil, err
	}

	extra := make(map[string]any)
	for k, val := range claims {
		switch k {
		case "sub", "iss", "aud", "exp", "iat", "authorities":
		default:
			extra[k] = val
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	return &TokenPayload{
		Subject:     claimString(claims, "sub"),
		Issuer:      issuer,
		Audience:    claimString(claims, "aud"),
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		Authorities: authorities,
		Extra:       extra,
	}, nil
}

// claimString reads a string claim; for array claims like aud it returns the
// first string element.
func claimString(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

func audienceContains(claim any, want string) bool {
	switch v := claim.(type) {
	case string:
		return v == want
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// claimTime reads a NumericDate claim (seconds since epoch).
func claimTime(claims map[string]any, key string) (time.Time, bool) {
	f, ok := claims[key].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0), true
}
