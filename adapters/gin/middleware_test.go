package authgin

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	authhttp "github.com/henrigvs/aidji-boot-sub000/adapters/http"
	"github.com/henrigvs/aidji-boot-sub000/authn"
	core "github.com/henrigvs/aidji-boot-sub000/core"
	"github.com/henrigvs/aidji-boot-sub000/identity"
	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

var testSigner = func() *jwtkit.RSASigner {
	s, err := jwtkit.NewRSASigner(2048, "gin-key-1")
	if err != nil {
		panic(err)
	}
	return s
}()

func testSource() jwtkit.StaticKeySource {
	return jwtkit.StaticKeySource{
		Active: testSigner,
		Pubs:   map[string]*rsa.PublicKey{testSigner.KID(): testSigner.PublicKey()},
	}
}

func newVerifier(t *testing.T) *jwtkit.Verifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.KeySetDocument(testSource()))
	}))
	t.Cleanup(srv.Close)

	logger, _ := logrustest.NewNullLogger()
	verifier, err := jwtkit.NewVerifier(core.VerifyConfig{JWKSURL: srv.URL}, logger)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

func newAuthenticator(t *testing.T, cfg core.MiddlewareConfig) *authn.Authenticator {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	auth, err := authn.New(newVerifier(t), cfg, logger, nil)
	if err != nil {
		t.Fatalf("authn.New: %v", err)
	}
	return auth
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := testSigner.Sign(context.Background(), claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newLocalIssuer(t *testing.T) *jwtkit.LocalIssuer {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	issuer, err := jwtkit.NewLocalIssuerWithSource(testSource(), core.IssueConfig{
		Mode:   core.IssuerModeLocal,
		Issuer: "https://issuer.example",
		TTL:    time.Hour,
	}, logger)
	if err != nil {
		t.Fatalf("NewLocalIssuerWithSource: %v", err)
	}
	return issuer
}

func TestMiddleware_DualPropagation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{})

	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/whoami", func(g *gin.Context) {
		fromStore, storeOK := CurrentPrincipal(g)
		fromCtx, ctxOK := identity.PrincipalFromContext(g.Request.Context())
		if !storeOK || !ctxOK {
			t.Errorf("store ok = %v, context ok = %v", storeOK, ctxOK)
			g.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if fromStore.SubjectID != fromCtx.SubjectID {
			t.Errorf("store subject %q != context subject %q", fromStore.SubjectID, fromCtx.SubjectID)
		}
		g.String(http.StatusOK, fromCtx.SubjectID)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "user-3"}))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "user-3" {
		t.Fatalf("code = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestMiddleware_CookieMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{CookieName: "auth_token"})

	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/whoami", func(g *gin.Context) {
		p, ok := CurrentPrincipal(g)
		if !ok {
			g.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		g.String(http.StatusOK, p.SubjectID)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: signToken(t, jwt.MapClaims{"sub": "cookie-user"})})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "cookie-user" {
		t.Fatalf("code = %d, body = %q", w.Code, w.Body.String())
	}
}

// Gin recycles context objects through a sync.Pool. An identity set during
// one request must never be observable in a later request served by the
// reused context.
func TestMiddleware_PooledContextsStayClean(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{})

	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/whoami", func(g *gin.Context) {
		if p, ok := CurrentPrincipal(g); ok {
			g.String(http.StatusOK, p.SubjectID)
			return
		}
		g.String(http.StatusOK, "anonymous")
	})

	token := signToken(t, jwt.MapClaims{"sub": "user-3"})
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		if w.Body.String() != "user-3" {
			t.Fatalf("authenticated pass %d saw %q", i, w.Body.String())
		}

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
		if w.Body.String() != "anonymous" {
			t.Fatalf("anonymous pass %d inherited identity %q", i, w.Body.String())
		}
	}
}

func TestMiddleware_ConfigurationFailureAborts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{})

	called := false
	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/whoami", func(g *gin.Context) { called = true })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub":         "user-3",
		"authorities": 42,
	}))
	r.ServeHTTP(w, req)

	if called {
		t.Error("handler ran despite a configuration failure")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, middleware must not write bodies", w.Body.String())
	}
}

func TestRequireAuthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{})

	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/private", RequireAuthenticated(), func(g *gin.Context) {
		g.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	if w.Code != http.StatusUnauthorized || w.Body.Len() != 0 {
		t.Fatalf("anonymous: code = %d, body = %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "user-3"}))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated: code = %d", w.Code)
	}
}

func TestRequireAuthority(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{})

	r := gin.New()
	r.Use(Middleware(auth))
	r.GET("/admin", RequireAuthority("admin"), func(g *gin.Context) {
		g.String(http.StatusOK, "ok")
	})

	cases := map[string]struct {
		claims jwt.MapClaims
		want   int
	}{
		"anonymous":       {nil, http.StatusUnauthorized},
		"wrong authority": {jwt.MapClaims{"sub": "u", "authorities": []any{"viewer"}}, http.StatusForbidden},
		"has authority":   {jwt.MapClaims{"sub": "u", "authorities": []any{"viewer", "admin"}}, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.claims != nil {
				req.Header.Set("Authorization", "Bearer "+signToken(t, tc.claims))
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("code = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestLoginHandler_SetsVerifiableCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := newLocalIssuer(t)

	r := gin.New()
	r.POST("/auth/login", LoginHandler(issuer, nil, time.Hour, func(g *gin.Context) (string, map[string]any, error) {
		return "user-9", map[string]any{"authorities": []any{"admin"}}, nil
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %q", w.Code, w.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("auth_token cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("cookie is not HttpOnly")
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("cookie MaxAge = %d, want 3600", cookie.MaxAge)
	}

	payload, err := newVerifier(t).Validate(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("cookie token does not verify: %v", err)
	}
	if payload.Subject != "user-9" {
		t.Errorf("subject = %q", payload.Subject)
	}
	if len(payload.Authorities) != 1 || payload.Authorities[0] != "admin" {
		t.Errorf("authorities = %v", payload.Authorities)
	}
}

func TestLoginHandler_RejectsBadCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/auth/login", LoginHandler(newLocalIssuer(t), nil, time.Hour, func(g *gin.Context) (string, map[string]any, error) {
		return "", nil, errors.New("bad credentials")
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_token" {
			t.Error("cookie set on failed login")
		}
	}
}

type failingIssuer struct{ err error }

func (f failingIssuer) Issue(context.Context, string, map[string]any) (string, error) {
	return "", f.err
}

func TestLoginHandler_TrustOutageIsBadGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)

	issuer := failingIssuer{err: fmt.Errorf("%w: trust service answered 503", core.ErrNoToken)}
	r := gin.New()
	r.POST("/auth/login", LoginHandler(issuer, nil, time.Hour, func(g *gin.Context) (string, map[string]any, error) {
		return "user-9", nil, nil
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", w.Code)
	}
}

func TestLogoutHandler_OverwritesCookieWithExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := newLocalIssuer(t)

	r := gin.New()
	r.POST("/auth/logout", LogoutHandler(issuer, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("auth_token cookie not overwritten")
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("cookie MaxAge = %d, want deletion", cookie.MaxAge)
	}
	if cookie.Value == "" {
		t.Fatal("logout cookie carries no token; a browser that ignores deletion would keep the old one")
	}

	_, err := newVerifier(t).Validate(context.Background(), cookie.Value)
	if !errors.Is(err, core.ErrTokenExpired) {
		t.Errorf("logout token verification = %v, want expired", err)
	}
}

func TestJWKSHandler_ServesConditionalGet(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/.well-known/jwks.json", JWKSHandler(testSource()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag")
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional get code = %d, want 304", w.Code)
	}
}

// The same authenticator behind a gin engine and behind plain net/http
// middleware has to produce the same outcome for the same request.
func TestDeploymentShapesAgree(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthenticator(t, core.MiddlewareConfig{PublicPaths: []string{"/api/public/**"}})

	ginEngine := gin.New()
	ginEngine.Use(Middleware(auth))
	ginEngine.GET("/*any", func(g *gin.Context) {
		if p, ok := CurrentPrincipal(g); ok {
			g.Header("X-Subject", p.SubjectID)
		}
		g.Status(http.StatusNoContent)
	})

	plain := authhttp.Middleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := identity.PrincipalFromContext(r.Context()); ok {
			w.Header().Set("X-Subject", p.SubjectID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	expired := signToken(t, jwt.MapClaims{"sub": "user-3", "exp": time.Now().Add(-time.Minute).Unix()})
	cases := map[string]struct {
		path  string
		token string
	}{
		"valid token":   {"/api/orders", signToken(t, jwt.MapClaims{"sub": "user-3"})},
		"expired token": {"/api/orders", expired},
		"garbage token": {"/api/orders", "not.a.token"},
		"anonymous":     {"/api/orders", ""},
		"public path":   {"/api/public/data", "not.a.token"},
		"bad authorities": {"/api/orders", signToken(t, jwt.MapClaims{
			"sub":         "user-3",
			"authorities": "admin",
		})},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			run := func(h http.Handler) (int, string) {
				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, tc.path, nil)
				if tc.token != "" {
					req.Header.Set("Authorization", "Bearer "+tc.token)
				}
				h.ServeHTTP(w, req)
				return w.Code, w.Header().Get("X-Subject")
			}

			ginCode, ginSubject := run(ginEngine)
			plainCode, plainSubject := run(plain)

			if ginCode != plainCode || ginSubject != plainSubject {
				t.Fatalf("gin (%d, %q) != plain (%d, %q)", ginCode, ginSubject, plainCode, plainSubject)
			}
			if strings.Contains(name, "valid") && ginSubject != "user-3" {
				t.Fatalf("valid token not authenticated: subject %q", ginSubject)
			}
		})
	}
}
