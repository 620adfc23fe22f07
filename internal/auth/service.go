// Package auth は認証バックエンド（パスワード認証・OAuth/OIDC・セッション管理）を提供する。
// セッションの発行・更新・破棄はデバイス単位のセッション変更フィードへ配信する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/profile"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/validate"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
// DataはIdPが返した生の情報で、identity_dataとユーザーメタデータに保存する。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	Data           map[string]any
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はログインURLに現れるプロバイダ名を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// SessionPublisher はデバイス単位のセッション変更フィードへの配信インターフェース。
type SessionPublisher interface {
	Publish(deviceID string, ev model.SessionEvent)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SignInResult はサインイン・セッション更新の結果。
type SignInResult struct {
	Session     *model.Session
	AccessToken string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	hub         SessionPublisher
	tokens      *TokenIssuer
	config      ServiceConfig
	logger      *slog.Logger
}

// NewService はServiceを生成する。providersは名前で引けるように登録する。
func NewService(
	providers []OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	hub SessionPublisher,
	tokens *TokenIssuer,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	byName := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{
		providers:   byName,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		hub:         hub,
		tokens:      tokens,
		config:      config,
		logger:      logger,
	}
}

// Providers は設定済みのOAuthプロバイダ名を返す。
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// SignUp はメールアドレスとパスワードでユーザーを登録し、サインインさせる。
// プロフィールは作成しない（サインアップ完了フォームで登録する）。
func (s *Service) SignUp(ctx context.Context, deviceID, email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(email)
	v := validate.New().
		Required("email", email).
		Email("email", email).
		MinLen("password", password, PasswordMinLen).
		Custom("password", len(password) > 72, "72バイト以内で入力してください")
	if err := v.Err(); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.authFailed("sign up", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, s.authFailed("sign up", err)
	}

	now := time.Now()
	userID := uuid.New().String()
	user := &model.User{
		ID:           userID,
		Email:        email,
		PasswordHash: hash,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       model.ProviderEmail,
		ProviderUserID: userID,
		Data:           map[string]any{"sub": userID, "email": email},
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity, nil); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, s.authFailed("sign up", err)
	}

	s.logger.Info("user signed up",
		slog.String("user_id", userID),
		slog.String("provider", model.ProviderEmail),
	)
	return s.signIn(ctx, deviceID, userID, model.SessionSignedIn)
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func (s *Service) SignInWithPassword(ctx context.Context, deviceID, email, password string) (*SignInResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, s.authFailed("sign in", err)
	}
	if user == nil || !checkPassword(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}
	return s.signIn(ctx, deviceID, user.ID, model.SessionSignedIn)
}

// GetLoginURL はプロバイダのOAuth認証URLを生成する。
func (s *Service) GetLoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewUnknownProviderError(provider)
	}
	return p.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusers・identities・profilesのレコードを同時に自動作成する。
// 登録済みユーザーの場合はIdPが返した最新の情報でidentity_dataとメタデータを更新する。
func (s *Service) HandleCallback(ctx context.Context, deviceID, provider, code string) (*SignInResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(provider)
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, s.authFailed("exchange oauth code", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, s.authFailed("find identity", err)
	}

	var userID string
	if identity != nil {
		// 3a. 既存ユーザー: IdPの最新情報を反映
		userID = identity.UserID
		if err := s.identRepo.UpdateData(ctx, identity.ID, info.Data); err != nil {
			return nil, s.authFailed("update identity", err)
		}
		if err := s.userRepo.UpdateMetadata(ctx, userID, info.Data); err != nil {
			return nil, s.authFailed("update user metadata", err)
		}
		s.logger.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", info.Provider),
		)
	} else {
		// 3b. 新規ユーザー
		userID, err = s.createOAuthUser(ctx, info)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッションを発行
	return s.signIn(ctx, deviceID, userID, model.SessionSignedIn)
}

// createOAuthUser はOAuthユーザーを作成し、IdP連携表示のプロフィールを自動作成する。
func (s *Service) createOAuthUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	now := time.Now()
	userID := uuid.New().String()

	user := &model.User{
		ID:        userID,
		Email:     info.Email,
		Metadata:  info.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		Data:           info.Data,
		CreatedAt:      now,
	}
	// 表示名とアバターはIdP情報から導出した値を初期値として保存する
	initial := profile.Resolve(profile.NewSource(model.Profile{ID: userID, SyncWithProvider: true}, info.Data))
	initial.HasFinishedSignup = false

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity, &initial); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return "", model.NewEmailTakenError()
		}
		return "", s.authFailed("create user", err)
	}

	s.logger.Info("new user created",
		slog.String("user_id", userID),
		slog.String("provider", info.Provider),
	)
	return userID, nil
}

// GetCurrentSession はデバイスに紐付く最新の有効なセッションを、ユーザー情報を付与して返す。
// 未ログインの場合はnilを返す。
func (s *Service) GetCurrentSession(ctx context.Context, deviceID string) (*model.Session, error) {
	session, err := s.sessionRepo.FindLatestByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find device session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if err := s.attachUser(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// FindSession はセッションIDで有効なセッションを取得する。見つからない場合はnilを返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.sessionRepo.FindByID(ctx, sessionID)
}

// VerifyAccessToken はアクセストークンを検証し、対応する有効なセッションを返す。
// セッションが失効・削除済みの場合はnilを返す。
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, nil
	}
	return session, nil
}

// RefreshSession はセッションIDを更新し、TOKEN_REFRESHEDを配信する。
func (s *Service) RefreshSession(ctx context.Context, deviceID, sessionID string) (*SignInResult, error) {
	current, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, s.authFailed("refresh session", err)
	}
	if current == nil || current.DeviceID != deviceID {
		return nil, model.NewUnauthorizedError()
	}

	next, err := s.newSession(deviceID, current.UserID)
	if err != nil {
		return nil, s.authFailed("refresh session", err)
	}
	if err := s.sessionRepo.Rotate(ctx, sessionID, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUnauthorizedError()
		}
		return nil, s.authFailed("refresh session", err)
	}
	return s.publish(ctx, deviceID, next, model.SessionTokenRefreshed)
}

// SignOut はセッションを破棄し、SIGNED_OUTを配信する。
func (s *Service) SignOut(ctx context.Context, deviceID, sessionID string) error {
	if sessionID == "" {
		return model.NewUnauthorizedError()
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return s.authFailed("sign out", err)
	}

	s.logger.Info("user logged out", slog.String("device_id", deviceID))
	s.hub.Publish(deviceID, model.SessionEvent{Type: model.SessionSignedOut})
	return nil
}

// signIn はセッションを作成し、デバイスのフィードへ配信する。
func (s *Service) signIn(ctx context.Context, deviceID, userID string, ev model.SessionEventType) (*SignInResult, error) {
	session, err := s.newSession(deviceID, userID)
	if err != nil {
		return nil, s.authFailed("create session", err)
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, s.authFailed("create session", err)
	}
	return s.publish(ctx, deviceID, session, ev)
}

func (s *Service) publish(ctx context.Context, deviceID string, session *model.Session, ev model.SessionEventType) (*SignInResult, error) {
	if err := s.attachUser(ctx, session); err != nil {
		return nil, s.authFailed("load user", err)
	}
	token, err := s.tokens.Issue(session)
	if err != nil {
		return nil, s.authFailed("issue access token", err)
	}
	s.hub.Publish(deviceID, model.SessionEvent{Type: ev, Session: session})
	return &SignInResult{Session: session, AccessToken: token}, nil
}

// attachUser はセッションにユーザー情報とアイデンティティを付与する。
func (s *Service) attachUser(ctx context.Context, session *model.Session) error {
	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", session.UserID)
	}
	identities, err := s.identRepo.ListByUserID(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	session.User = &model.AuthUser{
		ID:         user.ID,
		Email:      user.Email,
		Metadata:   user.Metadata,
		Identities: identities,
	}
	return nil
}

// newSession はセッションを生成する。永続化はしない。
func (s *Service) newSession(deviceID, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := time.Now()
	return &model.Session{
		ID:        sessionID,
		UserID:    userID,
		DeviceID:  deviceID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}, nil
}

// authFailed は基盤エラーをログに記録し、詳細を含まないAuthErrorに変換する。
func (s *Service) authFailed(op string, err error) error {
	s.logger.Error("auth operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return model.NewAuthError(op)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
