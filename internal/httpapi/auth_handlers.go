package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkpost.org/internal/audit"
	"inkpost.org/internal/auth"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

type registerRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type loginResponse struct {
	User         auth.UserView `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type permissionsResponse struct {
	Role        auth.Role `json:"role"`
	Permissions []string  `json:"permissions"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}

	user, err := a.svc.Register(r.Context(), auth.RegisterInput{
		FullName: req.FullName,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.register", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	w.Header().Set("Location", "/api/v1/users/current-user")
	writeSuccess(w, http.StatusCreated, "User registered successfully", user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}

	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if kind, ok := auth.KindOf(err); ok && statusForKind(kind) < http.StatusInternalServerError {
			a.audit(r.Context(), "auth.login.failed", map[string]any{
				"email": auth.NormalizeEmail(req.Email),
				"code":  string(kind),
			})
		}
		a.writeAuthError(w, r, err)
		return
	}

	a.setSessionCookies(w, res.Tokens)
	a.audit(r.Context(), "auth.login", map[string]any{"user_id": res.User.ID})
	writeSuccess(w, http.StatusOK, "User logged in successfully", loginResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var incoming string
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		incoming = strings.TrimSpace(c.Value)
	}
	if incoming == "" {
		var req refreshRequest
		if err := a.decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, r, http.StatusBadRequest, err.Error(), codeBadRequest)
			return
		}
		incoming = req.RefreshToken
	}

	pair, err := a.svc.RefreshAccessToken(r.Context(), incoming)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenMismatch) || errors.Is(err, auth.ErrTokenExpired) {
			a.clearSessionCookies(w)
		}
		a.writeAuthError(w, r, err)
		return
	}

	a.setSessionCookies(w, pair)
	writeSuccess(w, http.StatusOK, "Access token refreshed successfully", tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrUnauthorized)
		return
	}
	if err := a.svc.Logout(r.Context(), principal.ID); err != nil {
		a.writeAuthError(w, r, err)
		return
	}

	a.clearSessionCookies(w)
	a.audit(r.Context(), "auth.logout", nil)
	writeSuccess(w, http.StatusOK, "User logged out successfully", nil)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}

	if err := a.svc.ChangePassword(r.Context(), principal.ID, req.OldPassword, req.NewPassword); err != nil {
		a.writeAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.password.changed", nil)
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

func (a *API) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrUnauthorized)
		return
	}
	user, err := a.svc.CurrentUser(r.Context(), principal.ID)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Current user fetched successfully", user)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.writeAuthError(w, r, auth.ErrUnauthorized)
		return
	}
	if !auth.KnownRole(principal.Role) {
		a.writeAuthError(w, r, auth.Authorize(principal, ""))
		return
	}
	writeSuccess(w, http.StatusOK, "Permissions fetched successfully", permissionsResponse{
		Role:        principal.Role,
		Permissions: auth.PermissionsFor(principal.Role),
	})
}

// audit records a security event. Failures never affect the response.
func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.log.Debug("audit event not recorded", zap.String("event", event), zap.Error(err))
	}
}

func (a *API) setSessionCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, a.sessionCookie(accessTokenCookie, pair.AccessToken, pair.AccessExpiresAt))
	http.SetCookie(w, a.sessionCookie(refreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		c := a.sessionCookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (a *API) sessionCookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cookies.Domain,
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() && value != "" {
		c.Expires = expires.UTC()
		c.MaxAge = int(math.Max(1, math.Ceil(expires.Sub(a.now()).Seconds())))
	}
	return c
}
