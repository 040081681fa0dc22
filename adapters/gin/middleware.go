package authgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/henrigvs/aidji-boot-sub000/authn"
	"github.com/henrigvs/aidji-boot-sub000/identity"
)

// principalKey is the gin keyed-store slot for the request principal.
const principalKey = "auth.principal"

// Middleware authenticates each request. The principal is attached both to
// gin's keyed store and to the request context, so gin handlers and plain
// net/http code observe the same identity. Gin pools and reuses its context
// objects between requests; the keyed store is reset by gin on reuse and the
// request context dies with the request, so neither path leaks a principal
// into a later request.
//
// Unauthenticated requests proceed untouched. Only a configuration failure
// aborts, status-only, because rendering responses belongs to the
// application.
func Middleware(auth *authn.Authenticator) gin.HandlerFunc {
	return func(g *gin.Context) {
		if auth.PublicPath(g.Request.URL.Path) {
			g.Next()
			return
		}

		p, err := auth.Authenticate(g.Request)
		if err != nil {
			g.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if p != nil {
			g.Set(principalKey, p)
			g.Request = g.Request.WithContext(identity.WithPrincipal(g.Request.Context(), p))
		}
		g.Next()
	}
}
