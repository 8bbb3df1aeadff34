package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/quorumgames/lobbyd/internal/lobby"
)

// requestToken resolves the session token for a request. The Authorization
// header wins, then the session_token cookie, then the token query param
// (the only option browser WebSocket clients have).
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	if cookieHeader := r.Header.Get("Cookie"); cookieHeader != "" {
		if token := extractCookieToken(cookieHeader, "session_token"); token != "" {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// pathUUID parses a UUID path variable, tagging failures as invalid requests.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed %s", lobby.ErrInvalid, name)
	}
	return id, nil
}
