package authn

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	core "github.com/henrigvs/aidji-boot-sub000/core"
	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

// TokenVerifier is the verification dependency; *jwtkit.Verifier satisfies it.
type TokenVerifier interface {
	Validate(ctx context.Context, token string) (*jwtkit.TokenPayload, error)
}

// Authenticator drives per-request authentication: public-path exemption,
// token extraction, verification, and principal construction. Transport
// adapters wrap it for their framework; the outcomes are identical across
// them.
type Authenticator struct {
	verifier TokenVerifier
	cfg      core.MiddlewareConfig
	log      logrus.FieldLogger
	events   core.AuthEventLogger
}

// New builds an Authenticator. events may be nil, which disables audit
// events.
func New(verifier TokenVerifier, cfg core.MiddlewareConfig, log logrus.FieldLogger, events core.AuthEventLogger) (*Authenticator, error) {
	if verifier == nil {
		return nil, &core.ConfigurationError{Reason: "middleware: verifier is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{verifier: verifier, cfg: cfg, log: log, events: events}, nil
}

// PublicPath reports whether path is exempt from authentication.
func (a *Authenticator) PublicPath(path string) bool {
	for _, pattern := range a.cfg.PublicPaths {
		if MatchPath(pattern, path) {
			return true
		}
	}
	return false
}

// Authenticate inspects the request and returns the authenticated principal,
// or (nil, nil) when the request should proceed unauthenticated: no token,
// a token that fails verification, or a token without a subject. The only
// error it returns is a configuration failure, which the caller must treat
// as request-fatal rather than degrade.
func (a *Authenticator) Authenticate(r *http.Request) (*core.Principal, error) {
	token, found := a.extractToken(r)
	if !found {
		return nil, nil
	}

	payload, err := a.verifier.Validate(r.Context(), token)
	if err != nil {
		if core.IsConfiguration(err) {
			return nil, err
		}
		a.logFailure(r, err)
		return nil, nil
	}

	if payload.Subject == "" {
		a.log.WithField("path", r.URL.Path).Debug("verified token carries no subject, proceeding unauthenticated")
		return nil, nil
	}

	p := &core.Principal{
		SubjectID:   payload.Subject,
		Issuer:      payload.Issuer,
		Audience:    payload.Audience,
		SessionID:   sessionID(payload),
		SourceIP:    clientIP(r),
		Authorities: payload.Authorities,
		Extra:       payload.Extra,
	}
	a.audit(r, core.AuthEvent{
		Subject:   p.SubjectID,
		Issuer:    p.Issuer,
		SessionID: p.SessionID,
		SourceIP:  p.SourceIP,
		Path:      r.URL.Path,
		Outcome:   "authenticated",
	})
	return p, nil
}

// extractToken honors the configured mode: with a cookie name set, the
// cookie is consulted first and wins over the header; without one, only the
// Authorization header counts.
func (a *Authenticator) extractToken(r *http.Request) (string, bool) {
	if a.cfg.CookieName != "" {
		if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

func (a *Authenticator) logFailure(r *http.Request, err error) {
	entry := a.log.WithFields(logrus.Fields{
		"path":  r.URL.Path,
		"class": core.FailureClass(err),
	}).WithError(err)
	if core.IsInfrastructure(err) {
		// A dependency outage is not a statement about the token.
		entry.Error("authentication degraded by infrastructure failure")
	} else {
		entry.Info("token rejected, proceeding unauthenticated")
	}
	a.audit(r, core.AuthEvent{
		SourceIP: clientIP(r),
		Path:     r.URL.Path,
		Outcome:  "unauthenticated",
		Reason:   core.FailureClass(err),
	})
}

func (a *Authenticator) audit(r *http.Request, ev core.AuthEvent) {
	if a.events == nil {
		return
	}
	if err := a.events.LogAuthEvent(r.Context(), ev); err != nil {
		a.log.WithError(err).Warn("audit event dropped")
	}
}

func sessionID(payload *jwtkit.TokenPayload) string {
	if s, ok := payload.Extra["sid"].(string); ok && s != "" {
		return s
	}
	if s, ok := payload.Extra["jti"].(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
