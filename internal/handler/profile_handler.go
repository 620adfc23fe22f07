package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/workspace"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Update(ctx context.Context, userID string, in model.ProfileInput) (*model.Profile, error)
	FinishSignUp(ctx context.Context, userID string, in model.SignupInput) (*model.Profile, error)
}

// ProfileHandler はプロフィール表示・編集・サインアップ完了のHTTPハンドラー。
type ProfileHandler struct {
	service    ProfileServiceInterface
	workspaces WorkspaceProvider
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, workspaces WorkspaceProvider) *ProfileHandler {
	return &ProfileHandler{
		service:    service,
		workspaces: workspaces,
	}
}

// profileStateResponse はプロフィール表示のレスポンス。
type profileStateResponse struct {
	Profile              *model.Profile  `json:"profile"`
	Loading              bool            `json:"loading"`
	IncompleteSignup     bool            `json:"incomplete_signup"`
	CompleteProfileAlert bool            `json:"complete_profile_alert"`
	Error                *model.APIError `json:"error,omitempty"`
}

// GetProfile はWorkspaceが保持している表示用プロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ws, syncing, ok := boundWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	if syncing {
		writeJSON(w, http.StatusOK, profileStateResponse{Loading: true})
		return
	}
	snap := ws.Snapshot()
	writeJSON(w, http.StatusOK, profileStateResponse{
		Profile:              snap.Profile,
		Loading:              snap.ProfileLoading,
		IncompleteSignup:     snap.Destination == workspace.DestFinishSignup,
		CompleteProfileAlert: snap.CompleteProfileAlert,
		Error:                snap.ProfileError,
	})
}

// PreviewProfile はsync_with_providerを切り替えた場合の表示用プロフィールを返す。
// バックエンドへは問い合わせず、Workspaceが直近に取得した値から計算する。
// GET /api/profile/preview?sync=true
func (h *ProfileHandler) PreviewProfile(w http.ResponseWriter, r *http.Request) {
	sync, err := strconv.ParseBool(r.URL.Query().Get("sync"))
	if err != nil {
		writeError(w, r, model.NewValidationError([]model.FieldError{
			{Field: "sync", Message: "trueまたはfalseを指定してください"},
		}))
		return
	}

	ws, syncing, ok := boundWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	if syncing {
		writeError(w, r, model.NewProfileNotFoundError())
		return
	}
	p, found := ws.PreviewProfile(sync)
	if !found {
		writeError(w, r, model.NewProfileNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

// UpdateProfile はプロフィール編集フォームの内容を保存する。
// PUT /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req model.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.service.Update(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

// FinishSignUp はメールアドレス登録ユーザーのサインアップを完了する。
// POST /api/profile/finish-signup
func (h *ProfileHandler) FinishSignUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req model.SignupInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.service.FinishSignUp(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"profile": p})
}
