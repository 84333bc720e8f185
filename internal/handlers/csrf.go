package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenLen   = 32
	csrfMaxAge     = 12 * time.Hour
)

// csrfManager handles CSRF token generation and validation
type csrfManager struct {
	mu     sync.RWMutex
	tokens map[string]time.Time // token -> expiry
}

var csrf = &csrfManager{
	tokens: make(map[string]time.Time),
}

// generateToken creates a new cryptographically secure CSRF token
func (m *csrfManager) generateToken() (string, error) {
	bytes := make([]byte, csrfTokenLen)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(bytes)

	m.mu.Lock()
	m.tokens[token] = time.Now().Add(csrfMaxAge)
	m.mu.Unlock()

	return token, nil
}

// validateToken checks if a token is valid and not expired
func (m *csrfManager) validateToken(token string) bool {
	if token == "" {
		return false
	}

	m.mu.RLock()
	expiry, exists := m.tokens[token]
	m.mu.RUnlock()

	return exists && time.Now().Before(expiry)
}

// cleanup removes expired tokens (called periodically)
func (m *csrfManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// getOrCreateCSRFToken returns the token from the cookie, issuing a new one if needed.
// The cookie is readable by the page script, which echoes it in the X-CSRF-Token header.
func (h *Handler) getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil {
		if csrf.validateToken(cookie.Value) {
			return cookie.Value
		}
	}

	token, err := csrf.generateToken()
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfMaxAge.Seconds()),
		SameSite: http.SameSiteStrictMode,
	})

	return token
}

// validateCSRF checks the token on state-changing requests
func (h *Handler) validateCSRF(r *http.Request) bool {
	// Skip CSRF validation if disabled (desktop mode)
	if h.disableCSRF {
		return true
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}
	headerToken := r.Header.Get(csrfHeaderName)

	return cookie.Value == headerToken && csrf.validateToken(headerToken)
}

// protect wraps a state-changing handler with the CSRF check
func (h *Handler) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.validateCSRF(r) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "invalid CSRF token"})
			return
		}
		next(w, r)
	}
}

// StartCSRFCleanup starts periodic cleanup of expired tokens until stop is closed
func StartCSRFCleanup(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				csrf.cleanup()
			}
		}
	}()
}
