package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordMinLen はパスワードの最小文字数。
const PasswordMinLen = 8

// hashPassword はパスワードをbcryptでハッシュ化する。
func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// checkPassword はハッシュとパスワードが一致するかを返す。
func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
