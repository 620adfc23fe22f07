package profile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/validate"
)

// プロフィール入力の文字数制約
const (
	UserNameMinLen  = 3
	UserNameMaxLen  = 16
	AvatarURLMaxLen = 2048
)

// URLGuard はアバターURLの静的な安全性検証インターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
}

// AvatarVerifier はアバターURLが画像を返すかを検証するインターフェース。
type AvatarVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// Service はプロフィール編集とサインアップ完了のサービス層。
// 書き込み後のローカル状態は更新せず、変更フィード経由の再取得に任せる。
type Service struct {
	profiles      repository.ProfileRepository
	emailProfiles repository.EmailProfileRepository
	guard         URLGuard
	avatars       AvatarVerifier
	logger        *slog.Logger
}

// NewService はServiceを生成する。avatarsがnilの場合、アバター画像の到達性は検証しない。
func NewService(
	profiles repository.ProfileRepository,
	emailProfiles repository.EmailProfileRepository,
	guard URLGuard,
	avatars AvatarVerifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		profiles:      profiles,
		emailProfiles: emailProfiles,
		guard:         guard,
		avatars:       avatars,
		logger:        logger,
	}
}

// Update はプロフィール編集フォームの内容を保存する。
// 保存によりサインアップは完了扱いになる。
func (s *Service) Update(ctx context.Context, userID string, in model.ProfileInput) (*model.Profile, error) {
	name, avatar, err := s.validateInput(ctx, in.UserName, in.AvatarURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, s.mutationFailed("プロフィールの更新", userID, err)
	}
	if existing == nil {
		return nil, model.NewProfileNotFoundError()
	}

	existing.UserName = &name
	existing.AvatarURL = avatar
	existing.SyncWithProvider = in.SyncWithProvider
	existing.HasFinishedSignup = true

	if err := s.profiles.Update(ctx, existing); err != nil {
		return nil, s.mutationFailed("プロフィールの更新", userID, err)
	}
	return existing, nil
}

// FinishSignUp はメール/パスワード登録ユーザーのサインアップを完了する。
// email_profilesとprofilesの行を同一トランザクションで作成する。
func (s *Service) FinishSignUp(ctx context.Context, userID string, in model.SignupInput) (*model.Profile, error) {
	name, avatar, err := s.validateInput(ctx, in.UserName, in.AvatarURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, s.mutationFailed("サインアップの完了", userID, err)
	}
	if existing != nil && existing.HasFinishedSignup {
		return nil, model.NewSignupAlreadyFinishedError()
	}

	ep := &model.EmailProfile{ID: userID, UserName: name, AvatarURL: avatar}
	p := &model.Profile{
		ID:                userID,
		UserName:          &name,
		AvatarURL:         avatar,
		HasFinishedSignup: true,
		SyncWithProvider:  false,
	}
	err = s.emailProfiles.CreateWithProfile(ctx, ep, p)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewSignupAlreadyFinishedError()
	}
	if err != nil {
		return nil, s.mutationFailed("サインアップの完了", userID, err)
	}

	s.logger.Info("signup finished", slog.String("user_id", userID))
	return p, nil
}

// validateInput はユーザー名とアバターURLを検証し、正規化した値を返す。
// アバターURLが空の場合はnilを返す。
func (s *Service) validateInput(ctx context.Context, userName, avatarURL string) (string, *string, error) {
	name := validate.Normalize(userName)
	avatar := validate.Normalize(avatarURL)

	v := validate.New().
		Required("user_name", name).
		MinLen("user_name", name, UserNameMinLen).
		MaxLen("user_name", name, UserNameMaxLen).
		MaxLen("avatar_url", avatar, AvatarURLMaxLen).
		OptionalURL("avatar_url", avatar)
	if avatar != "" && !v.HasErrors() && s.guard != nil {
		if err := s.guard.ValidateURL(avatar); err != nil {
			v.Custom("avatar_url", true, "このURLは使用できません")
		}
	}
	if err := v.Err(); err != nil {
		return "", nil, err
	}

	if avatar == "" {
		return name, nil, nil
	}
	if s.avatars != nil {
		if err := s.avatars.Verify(ctx, avatar); err != nil {
			return "", nil, model.NewAvatarUnreachableError(err.Error())
		}
	}
	return name, &avatar, nil
}

func (s *Service) mutationFailed(op, userID string, err error) error {
	s.logger.Error("profile mutation failed",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
	return model.NewMutationError(op)
}
