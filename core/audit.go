package core

import (
	"context"
)

// AuthEvent is one authentication outcome at the middleware boundary.
type AuthEvent struct {
	Subject   string // empty when the request stayed anonymous
	Issuer    string
	SessionID string
	SourceIP  string
	Path      string
	Outcome   string // "authenticated", "anonymous", or a FailureClass value
	Reason    string // failure detail, empty on success
}

// AuthEventLogger records authentication events to an external sink (e.g., ClickHouse).
// Implementations should be non-blocking and best-effort.
type AuthEventLogger interface {
	LogAuthEvent(ctx context.Context, ev AuthEvent) error
}
