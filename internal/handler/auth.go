package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/docnt/docnt/internal/model"
	"github.com/docnt/docnt/internal/store"
)

const sessionCookieName = "session"

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := h.tokens.Verify(cookie.Value)
		if err != nil {
			slog.Debug("rejected session token", "error", err)
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		revoked, err := h.store.IsTokenRevoked(claims.ID)
		if err != nil {
			h.internalError(w, r, "failed to check token revocation", err)
			return
		}
		if revoked {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := h.store.GetUserByID(claims.UserID())
		if err != nil {
			h.internalError(w, r, "failed to get user", err)
			return
		}
		if user == nil {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := h.store.GetUserByEmail(email)
	if err != nil {
		h.internalError(w, r, "failed to look up user", err)
		return
	}
	if existing != nil {
		writeError(w, r, http.StatusConflict, "EmailTaken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(w, r, "failed to hash password", err)
		return
	}

	id, err := h.store.CreateUser(model.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         model.UserRoleTeacher,
	})
	if store.IsUniqueViolation(err) {
		writeError(w, r, http.StatusConflict, "EmailTaken")
		return
	}
	if err != nil {
		h.internalError(w, r, "failed to create user", err)
		return
	}

	user, err := h.store.GetUserByID(id)
	if err != nil || user == nil {
		h.internalError(w, r, "failed to reload user", err)
		return
	}
	if !h.startSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.internalError(w, r, "failed to get user", err)
		return
	}
	if user == nil {
		writeError(w, r, http.StatusUnauthorized, "InvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "InvalidCredentials")
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	slog.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *model.User) bool {
	token, exp, err := h.tokens.Issue(user)
	if err != nil {
		h.internalError(w, r, "failed to issue session token", err)
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	return true
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if claims, err := h.tokens.Verify(cookie.Value); err == nil {
			if err := h.store.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
				slog.Error("failed to revoke token", "error", err)
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": model.UserFromContext(r.Context())})
}
