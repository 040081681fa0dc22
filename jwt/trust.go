package jwtkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	core "github.com/henrigvs/aidji-boot-sub000/core"
)

const (
	// DefaultSignPath is where trust services conventionally expose signing.
	DefaultSignPath = "/v1/tokens/sign"

	trustConnectTimeout  = 5 * time.Second
	trustTotalTimeout    = 10 * time.Second
	maxSignResponseBytes = 1 << 20
)

// signRequest is the wire form sent to the trust service.
type signRequest struct {
	RequestID  string         `json:"requestId"`
	Subject    string         `json:"subject"`
	Issuer     string         `json:"issuer"`
	TTLSeconds int64          `json:"ttlSeconds"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// signResponse is the wire form the trust service answers with.
type signResponse struct {
	Token     string `json:"token"`
	Algorithm string `json:"algorithm"`
	ExpiresAt int64  `json:"expiresAt"`
	Kid       string `json:"kid"`
}

// DelegatedIssuer forwards signing to a remote trust service over HTTP. The
// private key never enters this process. Any failure to obtain a token, be it
// a refused connection, a non-2xx answer, or an empty token in a 200 body,
// surfaces as core.ErrNoToken with the cause attached: an ambiguous exchange
// must never produce a usable credential.
type DelegatedIssuer struct {
	signURL  string
	apiToken string
	issuer   string
	ttl      time.Duration
	client   *http.Client
	log      logrus.FieldLogger
}

func NewDelegatedIssuer(cfg core.IssueConfig, log logrus.FieldLogger) (*DelegatedIssuer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, &core.ConfigurationError{Reason: "issue: issuer name is required"}
	}
	if cfg.Delegated == nil || strings.TrimSpace(cfg.Delegated.BaseURL) == "" {
		return nil, &core.ConfigurationError{Reason: "issue: delegated mode needs a trust service base URL"}
	}
	base, err := url.Parse(strings.TrimSpace(cfg.Delegated.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &core.ConfigurationError{Reason: "issue: trust service base URL is not absolute", Err: err}
	}

	signPath := cfg.Delegated.SignPath
	if signPath == "" {
		signPath = DefaultSignPath
	}
	if !strings.HasPrefix(signPath, "/") {
		signPath = "/" + signPath
	}

	return &DelegatedIssuer{
		signURL:  strings.TrimRight(base.String(), "/") + signPath,
		apiToken: cfg.Delegated.APIToken,
		issuer:   cfg.Issuer,
		ttl:      cfg.TokenTTL(),
		client: &http.Client{
			Timeout: trustTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: trustConnectTimeout}).DialContext,
			},
		},
		log: log,
	}, nil
}

// Issue asks the trust service to sign a token for subject.
func (d *DelegatedIssuer) Issue(ctx context.Context, subject string, claims map[string]any) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}

	reqBody := signRequest{
		RequestID:  uuid.NewString(),
		Subject:    subject,
		Issuer:     d.issuer,
		TTLSeconds: int64(d.ttl / time.Second),
		Claims:     claims,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: encode sign request: %w", core.ErrNoToken, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build sign request: %w", core.ErrNoToken, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrNoToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: trust service answered %d", core.ErrNoToken, resp.StatusCode)
	}

	var signed signResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSignResponseBytes)).Decode(&signed); err != nil {
		return "", fmt.Errorf("%w: decode sign response: %w", core.ErrNoToken, err)
	}
	if strings.TrimSpace(signed.Token) == "" {
		return "", fmt.Errorf("%w: response carried an empty token", core.ErrNoToken)
	}

	d.log.WithFields(logrus.Fields{
		"request_id": reqBody.RequestID,
		"kid":        signed.Kid,
		"algorithm":  signed.Algorithm,
	}).Debug("token issued by trust service")

	return signed.Token, nil
}
