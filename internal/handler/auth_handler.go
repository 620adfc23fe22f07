package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Providers() []string
	SignUp(ctx context.Context, deviceID, email, password string) (*auth.SignInResult, error)
	SignInWithPassword(ctx context.Context, deviceID, email, password string) (*auth.SignInResult, error)
	GetLoginURL(provider, state string) (string, error)
	HandleCallback(ctx context.Context, deviceID, provider, code string) (*auth.SignInResult, error)
	GetCurrentSession(ctx context.Context, deviceID string) (*model.Session, error)
	RefreshSession(ctx context.Context, deviceID, sessionID string) (*auth.SignInResult, error)
	SignOut(ctx context.Context, deviceID, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインアップ・サインイン・OAuth・セッション管理のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

type sessionResponse struct {
	ID        string        `json:"id"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *userResponse `json:"user,omitempty"`
}

type signInResponse struct {
	Session     sessionResponse `json:"session"`
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	resp := sessionResponse{ID: s.ID, ExpiresAt: s.ExpiresAt}
	if s.User != nil {
		resp.User = &userResponse{ID: s.User.ID, Email: s.User.Email, Metadata: s.User.Metadata}
	}
	return resp
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.passwordSignIn(w, r, http.StatusCreated, h.service.SignUp)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.passwordSignIn(w, r, http.StatusOK, h.service.SignInWithPassword)
}

type passwordFunc func(ctx context.Context, deviceID, email, password string) (*auth.SignInResult, error)

func (h *AuthHandler) passwordSignIn(w http.ResponseWriter, r *http.Request, status int, fn passwordFunc) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := fn(r.Context(), deviceID, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSignIn(w, status, result)
}

// Providers は利用可能なOAuthプロバイダ名を返す。
// GET /auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	names := h.service.Providers()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

// Login はOAuthフローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}

	loginURL, err := h.service.GetLoginURL(chi.URLParam(r, "provider"), state)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 成功時はセッションCookieを設定してフロントエンドへ、失敗時はエラーコード付きでログイン画面へリダイレクトする。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		h.redirectLoginError(w, r, model.ErrCodeAuth)
		return
	}

	// 2. 認可コードの取得（IdP側で拒否された場合はcodeがない）
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without code",
			slog.String("provider", provider),
			slog.String("idp_error", r.URL.Query().Get("error")),
		)
		h.redirectLoginError(w, r, model.ErrCodeAuth)
		return
	}

	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}

	// 3. 認証処理
	result, err := h.service.HandleCallback(r.Context(), deviceID, provider, code)
	if err != nil {
		errCode := model.ErrCodeAuth
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			errCode = apiErr.Code
		}
		h.redirectLoginError(w, r, errCode)
		return
	}

	h.setSessionCookie(w, result.Session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Session はこのデバイスの現在のセッションを返す。未ログインの場合はsessionがnull。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetCurrentSession(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionResponse(session)})
}

// Refresh はセッションを更新し、新しいセッションIDとアクセストークンを発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.RefreshSession(r.Context(), deviceID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSignIn(w, http.StatusOK, result)
}

// SignOut はセッションを破棄する。
// 破棄に失敗した場合もCookieはクリアする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	sessionID, _ := middleware.SessionIDFromContext(r.Context())

	err := h.service.SignOut(r.Context(), deviceID, sessionID)
	h.clearSessionCookie(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeSignIn(w http.ResponseWriter, status int, result *auth.SignInResult) {
	h.setSessionCookie(w, result.Session)
	writeJSON(w, status, signInResponse{
		Session:     toSessionResponse(result.Session),
		AccessToken: result.AccessToken,
		TokenType:   "bearer",
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectLoginError(w http.ResponseWriter, r *http.Request, code string) {
	target := strings.TrimRight(h.config.BaseURL, "/") + "/login?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
