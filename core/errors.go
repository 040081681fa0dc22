package core

import "errors"

// Authentication-class failures. Expiry is kept distinct from every other
// kind of invalidity so callers know whether obtaining a fresh token can
// help.
var (
	// ErrTokenExpired means the signature checked out but the token is past
	// its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers malformed structure, bad signatures, missing or
	// unknown key ids, and any other reason a specific token cannot be
	// trusted.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrNoToken means the remote trust service did not produce a token,
	// whether it answered without one or could not be reached at all.
	// Issuance fails outright rather than hand back something unusable.
	ErrNoToken = errors.New("trust service returned no token")
)

// InfrastructureError reports that a trust dependency (the key-set endpoint
// or the signing service) is unreachable or returned garbage. It is a
// statement about the deployment's surroundings, never about any one token.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Infrastructure wraps err as an infrastructure-class failure of op.
func Infrastructure(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err is infrastructure-class.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}

// ConfigurationError reports a deployment defect: unparseable key material,
// a non-conforming token producer, an impossible settings combination. It is
// never swallowed; whoever meets it must surface a hard failure.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Reason
	}
	return "configuration: " + e.Reason + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is configuration-class.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsAuthFailure reports whether err is a judgement about one presented
// token or issuance attempt, as opposed to an operational or deployment
// problem.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrNoToken)
}

// FailureClass names err's place in the taxonomy for logs and event sinks.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case IsInfrastructure(err):
		return "infrastructure"
	case IsConfiguration(err):
		return "configuration"
	}
	return "unknown"
}
