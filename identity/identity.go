package identity

import (
	"context"

	core "github.com/henrigvs/aidji-boot-sub000/core"
)

type ctxKey struct{}

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *core.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFromContext reads the authenticated principal from ctx. The second
// return is false for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (*core.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*core.Principal)
	return p, ok && p != nil
}

// SubjectFromContext reads just the subject id from ctx.
func SubjectFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.SubjectID, p.SubjectID != ""
}
