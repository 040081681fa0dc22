package authgin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieConfig shapes the auth cookie written at login and overwritten at
// logout.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c *CookieConfig) defaulted() CookieConfig {
	if c == nil {
		return CookieConfig{
			Name:     "auth_token",
			Path:     "/",
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		}
	}
	out := *c
	if strings.TrimSpace(out.Name) == "" {
		out.Name = "auth_token"
	}
	if strings.TrimSpace(out.Path) == "" {
		out.Path = "/"
	}
	if out.SameSite == 0 {
		out.SameSite = http.SameSiteLaxMode
	}
	return out
}

// SetAuthCookie writes token as the auth cookie, valid for ttl.
func SetAuthCookie(g *gin.Context, cfg *CookieConfig, token string, ttl time.Duration) {
	c := cfg.defaulted()
	http.SetCookie(g.Writer, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(ttl / time.Second),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

// ClearAuthCookie overwrites the auth cookie with expiredToken and tells the
// browser to drop it. A browser that ignores the deletion is still left
// holding a token that no verifier accepts.
func ClearAuthCookie(g *gin.Context, cfg *CookieConfig, expiredToken string) {
	c := cfg.defaulted()
	http.SetCookie(g.Writer, &http.Cookie{
		Name:     c.Name,
		Value:    expiredToken,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}
