package gateway

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/middleware"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/zap"
)

// 認証失敗の内部理由。ログとメトリクスにのみ使い、呼び出し元には返さない。
const (
	authReasonMissing      = "missing_header"
	authReasonBadScheme    = "bad_scheme"
	authReasonMalformed    = "malformed"
	authReasonBadSignature = "bad_signature"
	authReasonExpired      = "expired"
)

// pipeline は /api 配下のすべてのリクエストに同じ順序で適用する転送処理。
// resolve → authenticate → rewrite → forward → relay の各段階はルートの設定値だけで動作が決まる。
type pipeline struct {
	routes    *RouteTable
	codec     *token.Codec
	forwarder *Forwarder
	logger    *zap.Logger
	metrics   *Metrics
}

// serve はリクエストをパイプラインに通す。
func (p *pipeline) serve(c *gin.Context) {
	entry, err := p.routes.Resolve(c.Request.URL.Path)
	if err != nil {
		p.logger.Info("no route matched",
			zap.String("kind", "route"),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		writeError(c, errRouteNotFound(c.Request.URL.Path))
		return
	}
	c.Set(middleware.ContextKeyRoute, entry.Name)

	if entry.RequiresAuth {
		claims, err := p.authenticate(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Request = c.Request.WithContext(token.NewContext(c.Request.Context(), claims))
	}

	target := entry.Target(c.Request.URL)
	if err := p.forwarder.Forward(c, entry, target); err != nil {
		writeError(c, err)
	}
}

// authenticate はAuthorizationヘッダーのBearerトークンを検証する。
// ヘッダーが無いか形式が誤っている場合は401、トークンが無効な場合は403のエラーを返す。
// 無効の理由 (形式、署名、期限) は呼び出し元に区別させない。
func (p *pipeline) authenticate(c *gin.Context) (token.Claims, error) {
	raw, reason, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		p.rejectAuth(c, reason, nil)
		return token.Claims{}, errMissingToken(errors.New(reason))
	}

	claims, err := p.codec.Verify(raw)
	if err != nil {
		cause := authReasonMalformed
		switch {
		case errors.Is(err, token.ErrExpired):
			cause = authReasonExpired
		case errors.Is(err, token.ErrBadSignature):
			cause = authReasonBadSignature
		}
		p.rejectAuth(c, cause, err)
		return token.Claims{}, errInvalidToken(err)
	}
	return claims, nil
}

// rejectAuth は認証失敗をログとメトリクスに記録する。
func (p *pipeline) rejectAuth(c *gin.Context, reason string, err error) {
	fields := []zap.Field{
		zap.String("kind", "auth"),
		zap.String("reason", reason),
		zap.String("path", c.Request.URL.Path),
		zap.String("remote_addr", c.ClientIP()),
		zap.String("request_id", middleware.GetRequestID(c)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.logger.Warn("authentication rejected", fields...)
	p.metrics.AuthFailure(reason)
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, string, bool) {
	if header == "" {
		return "", authReasonMissing, false
	}
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", authReasonBadScheme, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", authReasonBadScheme, false
	}
	return raw, "", true
}
