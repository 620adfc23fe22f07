package workspace

import (
	"errors"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/profile"
	"github.com/hitoshi/todoman/internal/session"
)

// Destination はクライアントが表示すべき画面。
type Destination string

const (
	DestLoading      Destination = "loading"
	DestLogin        Destination = "/login"
	DestFinishSignup Destination = "/finish-signup"
	DestTodos        Destination = "/todos"
)

// Snapshot はビュー層に渡すWorkspace全体の状態。
type Snapshot struct {
	SessionLoading bool              `json:"session_loading"`
	SignedIn       bool              `json:"signed_in"`
	User           *SnapshotUser     `json:"user,omitempty"`
	SessionError   *model.APIError   `json:"session_error,omitempty"`
	ProfileLoading bool              `json:"profile_loading"`
	Profile        *model.Profile    `json:"profile,omitempty"`
	ProfileError   *model.APIError   `json:"profile_error,omitempty"`
	TodosLoading   bool              `json:"todos_loading"`
	Todos          []model.Todo      `json:"todos"`
	TodosError     *model.APIError   `json:"todos_error,omitempty"`
	Sort           model.SortOptions `json:"sort"`
	Destination    Destination       `json:"destination"`

	// CompleteProfileAlert はプロフィールはあるがサインアップ未完了の場合にtrue。
	CompleteProfileAlert bool `json:"complete_profile_alert"`
}

// SnapshotUser はログイン中ユーザーの公開情報。
type SnapshotUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

func (w *Workspace) compute() Snapshot {
	ss := w.session.State()
	ps := w.profile.State()
	ts := w.todos.State()

	snap := Snapshot{
		SessionLoading: ss.Loading,
		SignedIn:       ss.Session != nil,
		SessionError:   asAPIError(ss.Err, model.NewAuthError("セッションを取得できませんでした")),
		ProfileLoading: ps.Loading,
		Profile:        ps.Profile,
		ProfileError:   asAPIError(ps.Err, loadFailed("プロフィール")),
		TodosLoading:   ts.Loading,
		Todos:          ts.Todos,
		TodosError:     asAPIError(ts.Err, loadFailed("TODO一覧")),
		Sort:           w.prefs.State(),
		Destination:    Route(ss, ps),
	}
	if snap.Todos == nil {
		snap.Todos = []model.Todo{}
	}
	if ss.Session != nil {
		snap.User = &SnapshotUser{ID: ss.Session.UserID}
		if u := ss.User(); u != nil {
			snap.User.Email = u.Email
		}
	}
	if ps.Profile != nil && !ps.Profile.HasFinishedSignup {
		snap.CompleteProfileAlert = true
	}
	return snap
}

// Route はセッションとプロフィールの状態から表示すべき画面を決める。
// セッション取得の失敗は未ログインと同じ扱いにする。
func Route(ss session.State, ps profile.State) Destination {
	switch {
	case ss.Loading:
		return DestLoading
	case ss.Session == nil:
		return DestLogin
	case ps.Loading:
		return DestLoading
	case ps.IncompleteSignup:
		return DestFinishSignup
	default:
		return DestTodos
	}
}

// asAPIError はストアのエラーをクライアントへ返す形に変換する。
// APIError以外は内部の詳細を含めずfallbackに置き換える。
func asAPIError(err error, fallback *model.APIError) *model.APIError {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return fallback
}

func loadFailed(what string) *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  what + "の読み込みに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再読み込みしてください。",
	}
}
