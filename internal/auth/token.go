package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/todoman/internal/model"
)

// AccessClaims はアクセストークンのペイロード。subはユーザーID、sidはセッションID。
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenIssuer はセッションに紐付くHS256のアクセストークンを発行・検証する。
// トークンが有効でも、セッション行が削除されていれば認証は通らない。
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue はセッションの有効期限までを有効期間とするトークンを発行する。
func (t *TokenIssuer) Issue(session *model.Session) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		SessionID: session.ID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify は署名・有効期限・発行者を検証してクレームを返す。
func (t *TokenIssuer) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !parsed.Valid || claims.SessionID == "" || claims.Subject == "" {
		return nil, errors.New("invalid access token claims")
	}
	return claims, nil
}
