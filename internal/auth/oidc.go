package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig は汎用OpenID Connectプロバイダの設定。
type OIDCConfig struct {
	Name         string // ログインURLに現れるプロバイダ名（例: github）
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider はディスカバリ文書から構成したOpenID Connectプロバイダ。
// IDトークンの署名・発行者・audienceを検証し、クレームをアイデンティティ情報とする。
type OIDCProvider struct {
	name     string
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider はIssuerのディスカバリ文書を取得してOIDCProviderを生成する。
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCProvider{
		name: cfg.Name,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Name はプロバイダ名を返す。
func (p *OIDCProvider) Name() string {
	return p.name
}

// GetLoginURL は認可エンドポイントのURLを生成する。
func (p *OIDCProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンのクレームを返す。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}
	email, _ := claims["email"].(string)
	return &OAuthUserInfo{
		Provider:       p.name,
		ProviderUserID: idToken.Subject,
		Email:          email,
		Data:           claims,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
