package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// HeaderAPIKey is accepted as an alternative to a bearer Authorization header.
const HeaderAPIKey = "X-API-Key"

var (
	errNoCredentials  = errors.New("missing API key")
	errBadCredentials = errors.New("invalid API key")
)

// keysMatch compares digests so neither the key nor its length leaks through
// timing. An empty configured key matches nothing.
func keysMatch(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	p := sha256.Sum256([]byte(presented))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(p[:], c[:]) == 1
}

// presentedKey reads the caller's key from "Authorization: Bearer <key>" or
// the X-API-Key header. Any other Authorization scheme is rejected.
func presentedKey(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, key, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", errors.New("unsupported Authorization scheme")
		}
		if key = strings.TrimSpace(key); key == "" {
			return "", errNoCredentials
		}
		return key, nil
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key, nil
	}
	return "", errNoCredentials
}

// authMiddleware requires the configured API key on every request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := presentedKey(r)
		if err == nil && !keysMatch(key, s.config.APIKey) {
			err = errBadCredentials
		}
		if err != nil {
			s.logger.Warn("request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer realm="csdb"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
