package authhttp

import (
	"net/http"

	"github.com/henrigvs/aidji-boot-sub000/authn"
	"github.com/henrigvs/aidji-boot-sub000/identity"
)

// Middleware authenticates each request and attaches the principal to the
// request context. The context value is immutable and request-scoped, so
// identity follows every continuation that carries the context and never
// bleeds into a concurrent request.
//
// Unauthenticated requests proceed untouched; downstream authorization owns
// the 401/403 decision. Only a configuration failure stops a request, with a
// status and no body, since response rendering belongs to the application.
func Middleware(auth *authn.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.PublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			p, err := auth.Authenticate(r)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if p != nil {
				r = r.WithContext(identity.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}
