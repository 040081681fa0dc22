package jwtkit

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	core "github.com/henrigvs/aidji-boot-sub000/core"
)

// LocalIssuer signs tokens with a held private key. Key material comes from
// the config when provided, otherwise from the auto-discovery chain (env,
// mounted keys.json, ephemeral generation outside production).
type LocalIssuer struct {
	source KeySource
	issuer string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewLocalIssuer provisions keys and returns a ready issuer. Bad key material
// is a startup failure, never a per-request one.
func NewLocalIssuer(cfg core.IssueConfig, log logrus.FieldLogger) (*LocalIssuer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var source KeySource
	if cfg.Local != nil && strings.TrimSpace(cfg.Local.PrivateKeyPEM) != "" {
		signer, err := NewRSASignerFromPEM(cfg.Local.KeyID, []byte(cfg.Local.PrivateKeyPEM))
		if err != nil {
			return nil, &core.ConfigurationError{Reason: "issue: invalid private key PEM", Err: err}
		}
		if strings.TrimSpace(cfg.Local.PublicKeyPEM) != "" {
			pub, err := ParseRSAPublicKeyPEM([]byte(cfg.Local.PublicKeyPEM))
			if err != nil {
				return nil, &core.ConfigurationError{Reason: "issue: invalid public key PEM", Err: err}
			}
			if pub.N.Cmp(signer.PublicKey().N) != 0 || pub.E != signer.PublicKey().E {
				return nil, &core.ConfigurationError{Reason: "issue: public key does not match private key"}
			}
		}
		source = StaticKeySource{
			Active: signer,
			Pubs:   map[string]*rsa.PublicKey{signer.KID(): signer.PublicKey()},
		}
	} else {
		discovered, err := NewAutoKeySource(log)
		if err != nil {
			return nil, &core.ConfigurationError{Reason: "issue: key provisioning failed", Err: err}
		}
		source = discovered
	}

	return NewLocalIssuerWithSource(source, cfg, log)
}

// NewLocalIssuerWithSource builds a LocalIssuer around an existing KeySource,
// e.g. one backed by a database key store.
func NewLocalIssuerWithSource(source KeySource, cfg core.IssueConfig, log logrus.FieldLogger) (*LocalIssuer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, &core.ConfigurationError{Reason: "issue: issuer name is required"}
	}
	if source == nil || source.ActiveSigner() == nil {
		return nil, &core.ConfigurationError{Reason: "issue: key source has no active signer"}
	}
	return &LocalIssuer{
		source: source,
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL(),
		log:    log,
	}, nil
}

// KeySource exposes the issuer's keys, e.g. for publishing a JWKS endpoint.
func (i *LocalIssuer) KeySource() KeySource { return i.source }

// JWKS returns the published form of every public key this issuer trusts.
func (i *LocalIssuer) JWKS() JWKS { return KeySetDocument(i.source) }

// Issue signs a token for subject. Caller claims are carried through;
// reserved claims (sub, iss, iat, exp, jti) win over same-named entries.
func (i *LocalIssuer) Issue(ctx context.Context, subject string, claims map[string]any) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}

	now := time.Now()
	mc := make(jwt.MapClaims, len(claims)+5)
	for k, v := range claims {
		mc[k] = v
	}
	mc["sub"] = subject
	mc["iss"] = i.issuer
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(i.ttl).Unix()
	mc["jti"] = uuid.NewString()

	return i.signWith(ctx, mc)
}

// IssueExpired produces a token whose expiry already passed. Writing it over
// an auth cookie signs the browser out without a revocation list. The token
// carries no subject, so it never authenticates even under generous leeway.
func (i *LocalIssuer) IssueExpired(ctx context.Context) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		"iss": i.issuer,
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
		"jti": uuid.NewString(),
	}
	return i.signWith(ctx, mc)
}

func (i *LocalIssuer) signWith(ctx context.Context, mc jwt.MapClaims) (string, error) {
	token, err := i.source.ActiveSigner().Sign(ctx, mc)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
