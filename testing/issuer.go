// Package testing provides a mock token issuer for integration tests.
// It runs an HTTP server that publishes a JWKS document and signs tokens
// that verify against it, so applications can exercise the full
// token-to-principal path without a real trust service.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	verifier, _ := jwtkit.NewVerifier(core.VerifyConfig{JWKSURL: issuer.JWKSURL()}, logger)
//	token := issuer.CreateToken("user-123")
package testing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

// TestIssuer is a self-contained signing authority for tests. It serves its
// public keys at /.well-known/jwks.json and mints tokens with its private
// key. Call Close when done to shut down the server.
type TestIssuer struct {
	server   *httptest.Server
	audience string

	mu     sync.Mutex
	signer *jwtkit.RSASigner
	serial int
}

// NewTestIssuer starts a test issuer with a fresh RSA key pair.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("")
}

// NewTestIssuerWithAudience starts a test issuer that stamps aud into every
// minted token.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	ti := &TestIssuer{audience: audience}
	ti.signer = ti.newSigner()

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", ti.handleJWKS)
	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the issuer's base URL. It doubles as the iss claim of every
// minted token.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// JWKSURL returns the full URL of the published key set document.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + "/.well-known/jwks.json" }

// Audience returns the audience stamped into minted tokens, if any.
func (ti *TestIssuer) Audience() string { return ti.audience }

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// Rotate replaces the signing key. Tokens minted before the rotation carry a
// kid that the JWKS document no longer lists, which is how stale cached key
// sets and revoked keys look to a verifier.
func (ti *TestIssuer) Rotate() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.signer = ti.newSigner()
}

func (ti *TestIssuer) newSigner() *jwtkit.RSASigner {
	ti.serial++
	signer, err := jwtkit.NewRSASigner(2048, fmt.Sprintf("test-key-%d", ti.serial))
	if err != nil {
		panic("testissuer: generate key: " + err.Error())
	}
	return signer
}

func (ti *TestIssuer) currentSigner() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	signer := ti.currentSigner()
	jwk := jwtkit.RSAPublicToJWK(signer.PublicKey(), signer.KID(), signer.Algorithm())
	jwtkit.ServeJWKS(w, r, jwtkit.JWKS{Keys: []jwtkit.JWK{jwk}})
}

// CreateToken mints a token for subject, valid for one hour.
func (ti *TestIssuer) CreateToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, nil)
}

// CreateTokenWithClaims mints a token for subject with extra claims merged
// over the standard set (sub, iss, aud, iat, exp). Extra claims win, so a
// caller can override exp or iss to produce deliberately bad tokens.
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extra map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if ti.audience != "" {
		claims["aud"] = ti.audience
	}
	for k, v := range extra {
		claims[k] = v
	}

	token, err := ti.currentSigner().Sign(context.Background(), claims)
	if err != nil {
		panic("testissuer: sign token: " + err.Error())
	}
	return token
}

// CreateTokenWithAuthorities mints a token carrying the named authorities.
func (ti *TestIssuer) CreateTokenWithAuthorities(subject string, authorities []string) string {
	members := make([]any, len(authorities))
	for i, a := range authorities {
		members[i] = a
	}
	return ti.CreateTokenWithClaims(subject, map[string]any{"authorities": members})
}

// CreateTokenWithExpiry mints a token that expires at the given time.
func (ti *TestIssuer) CreateTokenWithExpiry(subject string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(subject, map[string]any{"exp": expiry.Unix()})
}

// CreateExpiredToken mints a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithExpiry(subject, time.Now().Add(-time.Hour))
}

// CreateTokenWithUnknownKey mints a well-formed, correctly signed token
// whose kid is absent from the published key set.
func (ti *TestIssuer) CreateTokenWithUnknownKey(subject string) string {
	stray, err := jwtkit.NewRSASigner(2048, "stray-key")
	if err != nil {
		panic("testissuer: generate key: " + err.Error())
	}
	now := time.Now()
	token, err := stray.Sign(context.Background(), jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	if err != nil {
		panic("testissuer: sign token: " + err.Error())
	}
	return token
}
