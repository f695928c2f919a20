package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はゲートウェイが扱うエラーの分類。
type Kind int

const (
	// KindInternal はゲートウェイ内部の予期しないエラー。
	KindInternal Kind = iota
	// KindClient はリクエスト内容の誤り。
	KindClient
	// KindAuth は認証の失敗。
	KindAuth
	// KindUpstream はバックエンドとの通信の失敗。
	KindUpstream
	// KindConfig は設定の誤り。
	KindConfig
)

// String はKindの名前を返す。
func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindAuth:
		return "auth"
	case KindUpstream:
		return "upstream"
	case KindConfig:
		return "config"
	default:
		return "internal"
	}
}

// 呼び出し元へ返すreasonコード。
const (
	ReasonRouteNotFound       = "route_not_found"
	ReasonMissingToken        = "missing_or_malformed_token"
	ReasonInvalidToken        = "invalid_token"
	ReasonInvalidCredentials  = "invalid_credentials"
	ReasonInvalidRequest      = "invalid_request"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUpstreamTimeout     = "upstream_timeout"
	ReasonTooManyRequests     = "too_many_requests"
	ReasonInternal            = "internal_error"
)

// ErrRouteNotFound はパスに一致するルートが無い場合のエラー。
var ErrRouteNotFound = errors.New("一致するルートがありません")

// Error はパイプラインの各段階が返すエラー。
// Status と Reason は呼び出し元へのレスポンスに使い、Err は内部向けのログにのみ出力する。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Status は返却するHTTPステータスコード。
	Status int
	// Reason は呼び出し元へ返す安定したコード。
	Reason string
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError は設定の誤りを表すエラー。起動を中止させる。
type ConfigError struct {
	// Field は誤りのある設定項目。
	Field string
	// Err は誤りの内容。
	Err error
}

// Error はエラーメッセージを返す。
func (e *ConfigError) Error() string {
	return fmt.Sprintf("設定エラー: %s: %v", e.Field, e.Err)
}

// Unwrap は原因となったエラーを返す。
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// messages はreasonコードごとの汎用メッセージ。内部のエラー内容は含めない。
var messages = map[string]string{
	ReasonRouteNotFound:       "Route not found",
	ReasonMissingToken:        "Access denied. Token missing or incorrect format.",
	ReasonInvalidToken:        "Invalid or expired token",
	ReasonInvalidCredentials:  "Invalid username or password",
	ReasonInvalidRequest:      "Invalid request",
	ReasonUpstreamUnavailable: "Upstream service unavailable",
	ReasonUpstreamTimeout:     "Upstream service timed out",
	ReasonTooManyRequests:     "Too many requests",
	ReasonInternal:            "Internal server error",
}

func newError(kind Kind, status int, reason string, err error) *Error {
	return &Error{Kind: kind, Status: status, Reason: reason, Err: err}
}

func errRouteNotFound(path string) *Error {
	return newError(KindConfig, http.StatusNotFound, ReasonRouteNotFound, fmt.Errorf("%w: %s", ErrRouteNotFound, path))
}

func errMissingToken(err error) *Error {
	return newError(KindAuth, http.StatusUnauthorized, ReasonMissingToken, err)
}

func errInvalidToken(err error) *Error {
	return newError(KindAuth, http.StatusForbidden, ReasonInvalidToken, err)
}

func errUpstream(err error, timeout bool) *Error {
	if timeout {
		return newError(KindUpstream, http.StatusGatewayTimeout, ReasonUpstreamTimeout, err)
	}
	return newError(KindUpstream, http.StatusBadGateway, ReasonUpstreamUnavailable, err)
}

func errInternal(err error) *Error {
	return newError(KindInternal, http.StatusInternalServerError, ReasonInternal, err)
}

// asError は任意のエラーを *Error に変換する。変換できないものは内部エラーとして扱う。
func asError(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return errInternal(err)
}

// writeError はエラーをJSONレスポンスとして書き出す唯一の境界。
func writeError(c *gin.Context, err error) {
	gwErr := asError(err)
	if gwErr.Status == statusClientClosedRequest {
		// 呼び出し元は切断済みのためボディは書き出さない
		c.AbortWithStatus(gwErr.Status)
		return
	}
	msg, ok := messages[gwErr.Reason]
	if !ok {
		msg = messages[ReasonInternal]
	}
	c.AbortWithStatusJSON(gwErr.Status, gin.H{
		"error":  msg,
		"reason": gwErr.Reason,
	})
}
