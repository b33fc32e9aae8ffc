package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/auth"
	"residencial.org/internal/obs"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	AllSessions  bool   `json:"all_sessions"`
}

type changePasswordRequest struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

type tokenResponse struct {
	User             userView  `json:"user"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

func newTokenResponse(res *auth.LoginResult) tokenResponse {
	return tokenResponse{
		User:             newUserView(res.Principal),
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        res.Tokens.ExpiresIn,
		SessionExpiresAt: res.Tokens.SessionExpiresAt,
	}
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, auth.ErrAccountLocked):
		return "locked"
	case errors.Is(err, auth.ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, auth.ErrNoPasswordConfigured):
		return "no_password"
	default:
		return "error"
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "auth.login"
	var req loginRequest
	if !a.decode(w, r, op, &req) {
		return
	}

	ip := clientIP(r)
	if d := a.limiter.Allow(r.Context(), ip); !d.Allowed {
		obs.ObserveLogin("throttled")
		secs := int(d.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		a.logger.Warn("login throttled", zap.String("ip", ip), zap.Int64("attempts", d.Count))
		a.fail(w, r, http.StatusTooManyRequests, op, "Too many login attempts, try again later", nil)
		return
	}

	res, err := a.auth.Login(r.Context(), auth.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Client:     auth.ClientInfo{IPAddress: ip, UserAgent: r.UserAgent()},
	})
	obs.ObserveLogin(loginOutcome(err))
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Login successful", newTokenResponse(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "auth.refresh_token"
	var req refreshRequest
	if !a.decode(w, r, op, &req) {
		return
	}
	res, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Token refreshed", newTokenResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	const op = "auth.logout"
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		a.decodeFailed(w, r, op, err)
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())
	n, err := a.auth.Logout(r.Context(), principal, auth.LogoutInput{
		RefreshToken: req.RefreshToken,
		AllSessions:  req.AllSessions,
	})
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	msg := "Logged out"
	if req.AllSessions {
		msg = "Logged out from all sessions"
	}
	a.respond(w, r, http.StatusOK, op, msg, map[string]any{"sessions_ended": n})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	const op = "auth.change_password"
	var req changePasswordRequest
	if !a.decode(w, r, op, &req) {
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())
	err := a.auth.ChangePassword(r.Context(), principal, auth.ChangePasswordInput{
		CurrentPassword:    req.CurrentPassword,
		NewPassword:        req.NewPassword,
		ConfirmNewPassword: req.ConfirmNewPassword,
	})
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Password changed successfully", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	a.respond(w, r, http.StatusOK, "auth.me", "Current user", newUserView(principal))
}
