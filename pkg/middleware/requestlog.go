package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/zap"
)

// RequestLogger はリクエストごとにアクセスログを1件出力するGinミドルウェアを返す。
// 認証済みの場合はユーザー名とロールも記録する。リクエストボディは記録しない。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("proto", c.Request.Proto),
			zap.String("remote_addr", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("response_size", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		}
		if route := c.GetString(ContextKeyRoute); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		claims, ok := token.FromContext(c.Request.Context())
		fields = append(fields, zap.Bool("authenticated", ok))
		if ok {
			fields = append(fields,
				zap.String("username", claims.Username),
				zap.String("role", string(claims.Role)),
			)
		}
		logger.Info("http access", fields...)
	}
}

// ContextKeyRoute はGinコンテキストに解決済みのルート名を格納するキー。
const ContextKeyRoute = "route"
