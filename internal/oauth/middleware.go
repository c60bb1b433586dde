package oauth

import (
	"fmt"
	"net/http"
	"strings"
)

// BearerMiddleware rejects requests without a valid access token and puts
// the caller's Props on the request context. resourcePath names the
// protected resource in the WWW-Authenticate challenge.
func (p *Provider) BearerMiddleware(resourcePath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metadataURL := p.baseURL(r) + PathResourceMetadata + resourcePath

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL))
				writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "Missing bearer token")
				return
			}

			props, err := p.VerifyAccessToken(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				p.logger.Debug("bearer rejected", "path", r.URL.Path, "err", err)
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s", error="invalid_token"`, metadataURL))
				writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProps(r.Context(), props)))
		})
	}
}
