package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin は管理者ロール。
const RoleAdmin = "admin"

// RoleUser は一般ユーザーのロール。
const RoleUser = "user"

// ErrInvalidToken はトークンの形式、署名、アルゴリズム、有効期限のいずれかが不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid token")

// Claims はBearerトークンのクレーム（ペイロード）を表す。
// Subject にユーザーIDを格納する。
type Claims struct {
	jwt.RegisteredClaims
	// Role はユーザーのロール（admin, user）。存在しない場合もある。
	Role string `json:"role,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Username はユーザー名。
	Username string `json:"username,omitempty"`
}

// IsAdmin は管理者ロールを持つかどうかを返す。
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Gin コンテキストに認証情報を保存するキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyRole     = "role"
	contextKeyEmail    = "email"
	contextKeyUsername = "username"
)

// signingMethod はアルゴリズム名からHMAC署名方式を返す。
func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("サポートされていない署名アルゴリズム: %s", alg)
	}
}

// Verifier は共有秘密鍵と固定の署名アルゴリズムでBearerトークンを検証する。
// 状態を持たないため複数のゴルーチンから同時に使用できる。
type Verifier struct {
	// secret は署名検証用の共有秘密鍵。
	secret []byte
	// parser は許可するアルゴリズムと有効期限の必須化を設定したパーサー。
	parser *jwt.Parser
}

// NewVerifier はトークン検証器を生成する。algが空の場合はHS256を使用する。
func NewVerifier(secret, alg string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("JWTシークレットが空です")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify はトークン文字列を検証し、クレームを返す。
// 検証に失敗した場合は ErrInvalidToken をラップしたエラーを返す。
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Signer はアクセストークンを発行する。認証サービスが使用する。
type Signer struct {
	// secret は署名用の共有秘密鍵。
	secret []byte
	// method は署名方式。
	method jwt.SigningMethod
	// ttl はトークンの有効期間。
	ttl time.Duration
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewSigner はトークン発行器を生成する。
func NewSigner(secret, alg string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("JWTシークレットが空です")
	}
	if ttl <= 0 {
		return nil, errors.New("トークンの有効期間は正の値である必要があります")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &Signer{secret: []byte(secret), method: method, ttl: ttl, now: time.Now}, nil
}

// TTL はトークンの有効期間を返す。
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign はユーザー情報からアクセストークンを生成する。
func (s *Signer) Sign(userID, role, email, username string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "bookhub-auth",
		},
		Role:     role,
		Email:    email,
		Username: username,
	}
	return GenerateJWT(s.method, s.secret, claims)
}

// GenerateJWT は任意のクレームに署名したトークンを生成する。
func GenerateJWT(method jwt.SigningMethod, secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// BearerToken はAuthorizationヘッダーの値からトークンを取り出す。
// "Bearer <token>" 形式でない場合はfalseを返す。スキーム名の大文字小文字は区別しない。
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"role"、"email"、"username" を設定する。
func JWTAuth(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Not authenticated",
			})
			return
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil || claims.Subject == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Could not validate credentials",
			})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyRole, claims.Role)
		c.Set(contextKeyEmail, claims.Email)
		c.Set(contextKeyUsername, claims.Username)
		c.Next()
	}
}

// RequireAdmin は管理者ロールを要求するGinミドルウェアを返す。
// JWTAuthミドルウェアの後に適用する必要がある。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin privileges required",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return c.GetString(contextKeyRole)
}

// IsAdmin は呼び出し元が管理者かどうかを返す。
func IsAdmin(c *gin.Context) bool {
	return GetRole(c) == RoleAdmin
}

// GetUsername はGinコンテキストからユーザー名を取得する。
func GetUsername(c *gin.Context) string {
	return c.GetString(contextKeyUsername)
}
