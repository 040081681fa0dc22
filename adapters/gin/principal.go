package authgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	core "github.com/henrigvs/aidji-boot-sub000/core"
	"github.com/henrigvs/aidji-boot-sub000/identity"
)

// CurrentPrincipal returns the authenticated caller for this request,
// whether it was attached by this package's middleware or carried on the
// request context by outer plain-http middleware.
func CurrentPrincipal(g *gin.Context) (*core.Principal, bool) {
	if v, ok := g.Get(principalKey); ok {
		if p, ok := v.(*core.Principal); ok && p != nil {
			return p, true
		}
	}
	return identity.PrincipalFromContext(g.Request.Context())
}

// RequireAuthenticated aborts with 401 when the request carries no verified
// principal. Status only, no body.
func RequireAuthenticated() gin.HandlerFunc {
	return func(g *gin.Context) {
		if _, ok := CurrentPrincipal(g); !ok {
			g.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		g.Next()
	}
}

// RequireAuthority aborts with 403 when the principal lacks the named
// authority, and 401 when there is no principal at all.
func RequireAuthority(name string) gin.HandlerFunc {
	return func(g *gin.Context) {
		p, ok := CurrentPrincipal(g)
		if !ok {
			g.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !p.HasAuthority(name) {
			g.AbortWithStatus(http.StatusForbidden)
			return
		}
		g.Next()
	}
}
