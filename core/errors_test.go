package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureClass(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":                  {nil, "none"},
		"expired":              {ErrTokenExpired, "expired"},
		"wrapped expired":      {fmt.Errorf("verify: %w", ErrTokenExpired), "expired"},
		"invalid":              {fmt.Errorf("%w: unknown key id", ErrTokenInvalid), "invalid"},
		"no token":             {fmt.Errorf("%w: trust service answered 503", ErrNoToken), "no_token"},
		"infrastructure":       {Infrastructure("fetch key set", errors.New("dial tcp: refused")), "infrastructure"},
		"configuration":        {&ConfigurationError{Reason: "invalid authority format"}, "configuration"},
		"wrapped configuration": {fmt.Errorf("middleware: %w", &ConfigurationError{Reason: "x"}), "configuration"},
		"unclassified":         {errors.New("boom"), "unknown"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := FailureClass(tc.err); got != tc.want {
				t.Fatalf("FailureClass(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestExpiredIsItsOwnClass(t *testing.T) {
	err := fmt.Errorf("verify: %w", ErrTokenExpired)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatal("expired error lost its identity through wrapping")
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("an expired token must not read as merely invalid")
	}
}

func TestNoTokenKeepsItsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("%w: %w", ErrNoToken, cause)

	if !errors.Is(err, ErrNoToken) {
		t.Error("lost the no-token identity")
	}
	if !errors.Is(err, cause) {
		t.Error("lost the underlying cause")
	}
}

func TestIsAuthFailure(t *testing.T) {
	for _, err := range []error{ErrTokenExpired, ErrTokenInvalid, ErrNoToken} {
		if !IsAuthFailure(err) {
			t.Errorf("IsAuthFailure(%v) = false", err)
		}
	}
	for _, err := range []error{
		Infrastructure("fetch key set", errors.New("timeout")),
		&ConfigurationError{Reason: "bad pem"},
		errors.New("boom"),
		nil,
	} {
		if IsAuthFailure(err) {
			t.Errorf("IsAuthFailure(%v) = true", err)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	infra := Infrastructure("fetch key set", errors.New("dial tcp: refused"))
	if got := infra.Error(); got != "fetch key set: dial tcp: refused" {
		t.Errorf("infrastructure message = %q", got)
	}
	if got := (&InfrastructureError{Op: "fetch key set"}).Error(); got != "fetch key set failed" {
		t.Errorf("bare infrastructure message = %q", got)
	}

	conf := &ConfigurationError{Reason: "invalid private key PEM", Err: errors.New("no PEM block")}
	if got := conf.Error(); got != "configuration: invalid private key PEM: no PEM block" {
		t.Errorf("configuration message = %q", got)
	}
	if !errors.Is(conf, conf.Err) {
		t.Error("configuration error does not unwrap to its cause")
	}
}
