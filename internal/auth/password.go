package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxBytes はbcryptが扱えるパスワードの最大バイト数。
const bcryptMaxBytes = 72

// truncatePassword はパスワードをbcryptが扱える長さに切り詰める。
func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxBytes {
		b = b[:bcryptMaxBytes]
	}
	return b
}

// hashPassword はパスワードをbcryptでハッシュ化する。
func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(truncatePassword(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hashed), nil
}

// verifyPassword はパスワードがハッシュと一致するかを返す。
func verifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), truncatePassword(password)) == nil
}

// newRefreshToken はURLセーフなランダム文字列のリフレッシュトークンを生成する。
func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("リフレッシュトークンの生成に失敗: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashRefreshToken はリフレッシュトークンの保存用ハッシュを返す。
// データベースには平文のトークンを保存しない。
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
