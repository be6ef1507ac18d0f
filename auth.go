package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf"
	csrfFieldName     = "csrf_token"
	sessionDuration   = 24 * time.Hour

	// The manager has a single operator account.
	operatorUserID = 1
)

var errNotAuthenticated = errors.New("not authenticated")

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CSRF protection using double-submit cookie pattern

func (m *Manager) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Secure:   m.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

func getCSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func validateCSRF(r *http.Request) bool {
	cookieToken := getCSRFToken(r)
	formToken := r.FormValue(csrfFieldName)

	if cookieToken == "" || formToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

func parseFormWithCSRF(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if !validateCSRF(r) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return false
	}
	return true
}

// ensureCSRFToken returns existing token or creates a new one
func (m *Manager) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	token := getCSRFToken(r)
	if token != "" {
		return token
	}

	token, err := generateToken()
	if err != nil {
		return ""
	}
	m.setCSRFCookie(w, token)
	return token
}

func (m *Manager) currentSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, nil
	}
	return m.sessions.Get(r.Context(), cookie.Value)
}

// requireAuth is middleware that protects routes requiring authentication
func (m *Manager) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := m.currentSession(r)
		if err != nil || session == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		next(w, r)
	}
}

// isAuthenticated checks if the current request has a valid session
func (m *Manager) isAuthenticated(r *http.Request) bool {
	session, err := m.currentSession(r)
	return err == nil && session != nil
}

// tokensFor returns the token source for the request's session. The
// session is looked up again on every call.
func (m *Manager) tokensFor(r *http.Request) TokenSource {
	return TokenFunc(func(ctx context.Context) (string, error) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			return "", errNotAuthenticated
		}
		session, err := m.sessions.Get(ctx, cookie.Value)
		if err != nil {
			return "", errors.Wrap(err, "loading session")
		}
		if session == nil {
			return "", errNotAuthenticated
		}
		return session.AccessToken, nil
	})
}

// accessTokenForLogin is the backend credential stored with a new session.
func (m *Manager) accessTokenForLogin() (string, error) {
	if m.cfg.APIToken != "" {
		return m.cfg.APIToken, nil
	}
	return generateToken()
}
