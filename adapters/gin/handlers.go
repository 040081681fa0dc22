package authgin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	core "github.com/henrigvs/aidji-boot-sub000/core"
	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

// LoginFunc resolves request credentials to a subject and any extra claims
// to embed in the issued token. Returning an error keeps the caller
// anonymous.
type LoginFunc func(g *gin.Context) (subject string, claims map[string]any, err error)

// LoginHandler issues a token for the subject resolved by login and sets it
// as the auth cookie. ttl should match the issuer's token lifetime so the
// cookie and the token expire together.
func LoginHandler(issuer jwtkit.Issuer, cookie *CookieConfig, ttl time.Duration, login LoginFunc) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = core.DefaultTokenTTL
	}
	return func(g *gin.Context) {
		subject, claims, err := login(g)
		if err != nil || subject == "" {
			g.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		token, err := issuer.Issue(g.Request.Context(), subject, claims)
		if err != nil {
			if errors.Is(err, core.ErrNoToken) {
				// Trust service failure, the caller did nothing wrong.
				g.AbortWithStatus(http.StatusBadGateway)
				return
			}
			g.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		SetAuthCookie(g, cookie, token, ttl)
		g.JSON(http.StatusOK, gin.H{"ok": true, "token": token})
	}
}

// LogoutHandler signs the browser out by overwriting the auth cookie with an
// already-expired token when the issuer can mint one, or by plain deletion
// otherwise.
func LogoutHandler(issuer jwtkit.Issuer, cookie *CookieConfig) gin.HandlerFunc {
	return func(g *gin.Context) {
		expired := ""
		if e, ok := issuer.(jwtkit.ExpiredTokenIssuer); ok {
			if token, err := e.IssueExpired(g.Request.Context()); err == nil {
				expired = token
			}
		}
		ClearAuthCookie(g, cookie, expired)
		g.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// JWKSHandler serves the public key set document.
func JWKSHandler(source jwtkit.KeySource) gin.HandlerFunc {
	return func(g *gin.Context) {
		jwtkit.ServeJWKS(g.Writer, g.Request, jwtkit.KeySetDocument(source))
	}
}
