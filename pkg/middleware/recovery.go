package middleware

import (
	"errors"
	"net/http"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery はハンドラー内のパニックを回収するGinミドルウェアを返す。
//
// クライアント切断による中断(http.ErrAbortHandler、EPIPE、ECONNRESET)はWarnで記録し、
// レスポンスを書かずに打ち切る。それ以外はスタックトレース付きでErrorを記録し、
// まだ何も書き込んでいなければ500を返す。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			fields := []zap.Field{
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
				zap.Any("panic", rec),
			}
			if isConnectionAbort(rec) {
				logger.Warn("接続が切断されたためリクエストを中断しました", fields...)
				c.Abort()
				return
			}

			logger.Error("パニックから回復しました", append(fields, zap.Stack("stack"))...)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}()
		c.Next()
	}
}

func isConnectionAbort(rec any) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	return errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
