package gateway

import (
	"errors"
	"net/http"
)

// パイプラインの各段階で発生するエラー。HTTPステータスとレスポンスボディは httpError で決まる。
var (
	// ErrInvalidCredential は提示されたBearerトークンが不正な場合のエラー。
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrQuotaExceeded はクォータを超過した場合のエラー。
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrServiceNotFound はサービス名がレジストリに存在しない場合のエラー。
	ErrServiceNotFound = errors.New("service not found")
	// ErrUpstreamUnavailable はバックエンドまたはカウンタストアと通信できない場合のエラー。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// outcome はリクエストの終了状態。メトリクスのラベルとログに使用する。
type outcome string

const (
	outcomeForwarded        outcome = "forwarded"
	outcomeRejectedAuth     outcome = "rejected_auth"
	outcomeRejectedQuota    outcome = "rejected_quota"
	outcomeRejectedNotFound outcome = "rejected_not_found"
	outcomeRejectedUpstream outcome = "rejected_upstream"
	outcomeInternalError    outcome = "internal_error"
)

// httpError はエラーをステータスコード、外部向けメッセージ、終了状態に変換する。
func httpError(err error) (int, string, outcome) {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized, "Invalid token", outcomeRejectedAuth
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests, "Rate limit exceeded", outcomeRejectedQuota
	case errors.Is(err, ErrServiceNotFound):
		return http.StatusNotFound, "Service not found", outcomeRejectedNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway, "Service unavailable", outcomeRejectedUpstream
	default:
		return http.StatusInternalServerError, "Internal server error", outcomeInternalError
	}
}
