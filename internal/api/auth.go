package api

import (
	"context"
	"net/http"

	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/accounts"
)

const sessionCookie = "session"

type ctxKey int

const sessionCtxKey ctxKey = iota

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var c accounts.Credentials
	if err := decodeJSON(w, r, &c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.deps.Accounts.Register(r.Context(), c)
	switch {
	case err == nil:
	case crerr.Is(err, accounts.ErrInvalidSignup):
		respondError(w, http.StatusBadRequest,
			"username must be 3-150 letters, digits or underscores and password at least 8 characters")
		return
	case crerr.Is(err, accounts.ErrUsernameTaken):
		respondError(w, http.StatusConflict, "username already exists, please choose another one")
		return
	default:
		s.logger.Error("Signup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	s.logger.Info("Account created", "user_id", u.ID, "username", u.Username)
	respondJSON(w, http.StatusCreated, map[string]any{
		"user":    u,
		"message": "account created, please log in",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c accounts.Credentials
	if err := decodeJSON(w, r, &c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.deps.Accounts.Authenticate(r.Context(), c)
	if err != nil {
		if crerr.Is(err, accounts.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid credentials, please try again")
			return
		}
		s.logger.Error("Login failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not log in")
		return
	}

	sess, err := s.deps.Sessions.Create(r.Context(), u)
	if err != nil {
		s.logger.Error("Session create failed", "user_id", u.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not log in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"user":       u,
		"expires_at": sess.ExpiresAt,
		"message":    "logged in successfully",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := s.deps.Sessions.Destroy(r.Context(), c.Value); err != nil {
			s.logger.Warn("Session destroy failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			respondError(w, http.StatusUnauthorized, "please log in to access this page")
			return
		}
		sess, ok, err := s.deps.Sessions.Lookup(r.Context(), c.Value)
		if err != nil {
			s.logger.Error("Session lookup failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if !ok {
			respondError(w, http.StatusUnauthorized, "please log in to access this page")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey, sess)))
	})
}

func sessionFrom(ctx context.Context) (accounts.Session, bool) {
	sess, ok := ctx.Value(sessionCtxKey).(accounts.Session)
	return sess, ok
}
