package jwtkit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	core "github.com/henrigvs/aidji-boot-sub000/core"
)

// Issuer signs tokens for a subject. The claims map carries caller-supplied
// claims; reserved claims (sub, iss, iat, exp, jti) always win over entries
// with the same name.
type Issuer interface {
	Issue(ctx context.Context, subject string, claims map[string]any) (token string, err error)
}

// ExpiredTokenIssuer is implemented by issuers that can mint a token already
// past its expiry. Overwriting an auth cookie with such a token signs a user
// out without keeping a revocation list.
type ExpiredTokenIssuer interface {
	IssueExpired(ctx context.Context) (token string, err error)
}

// NewIssuer builds the issuer selected by cfg.Mode: a LocalIssuer signing
// with held keys, or a DelegatedIssuer forwarding to a remote trust service.
func NewIssuer(cfg core.IssueConfig, log logrus.FieldLogger) (Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case core.IssuerModeLocal:
		return NewLocalIssuer(cfg, log)
	case core.IssuerModeDelegated:
		return NewDelegatedIssuer(cfg, log)
	default:
		return nil, fmt.Errorf("unknown issuer mode %q", cfg.Mode)
	}
}
