package authhttp

import (
	"net/http"

	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

// JWKSHandler serves the public key set document for a local issuer's keys.
func JWKSHandler(source jwtkit.KeySource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.KeySetDocument(source))
	})
}
