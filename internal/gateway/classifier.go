package gateway

import (
	"fmt"

	"github.com/nao1215/bookhub/pkg/middleware"
)

// CallerClass は呼び出し元のクラス。リクエストごとに判定し、永続化しない。
type CallerClass string

const (
	// ClassAnonymous はBearerトークンを提示していない呼び出し元。
	ClassAnonymous CallerClass = "anonymous"
	// ClassAuthenticated は有効なトークンを提示した管理者以外の呼び出し元。
	ClassAuthenticated CallerClass = "authenticated"
	// ClassAdmin は管理者ロールを持つ有効なトークンを提示した呼び出し元。
	ClassAdmin CallerClass = "admin"
)

// callerClasses は全クラスの一覧。
var callerClasses = []CallerClass{ClassAnonymous, ClassAuthenticated, ClassAdmin}

// TokenVerifier はBearerトークンを検証してクレームを返す。
type TokenVerifier interface {
	Verify(token string) (*middleware.Claims, error)
}

// Classifier はAuthorizationヘッダーから呼び出し元のクラスを判定する。
type Classifier struct {
	verifier TokenVerifier
}

// NewClassifier は新しい Classifier を生成する。
func NewClassifier(verifier TokenVerifier) *Classifier {
	return &Classifier{verifier: verifier}
}

// Classify はAuthorizationヘッダーの値から呼び出し元のクラスとクレームを返す。
// ヘッダーが空の場合は anonymous を返す。ヘッダーがあるのにトークンが不正な場合は
// ErrInvalidCredential を返し、anonymous として扱わない。
func (c *Classifier) Classify(authorization string) (CallerClass, *middleware.Claims, error) {
	if authorization == "" {
		return ClassAnonymous, nil, nil
	}

	token, ok := middleware.BearerToken(authorization)
	if !ok {
		return "", nil, fmt.Errorf("%w: Bearer形式ではありません", ErrInvalidCredential)
	}

	claims, err := c.verifier.Verify(token)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	// サブジェクトはクォータの識別子になるため必須
	if claims.Subject == "" {
		return "", nil, fmt.Errorf("%w: subjectがありません", ErrInvalidCredential)
	}

	if claims.IsAdmin() {
		return ClassAdmin, claims, nil
	}
	return ClassAuthenticated, claims, nil
}
