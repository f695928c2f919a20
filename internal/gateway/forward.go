package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/httpclient"
	"github.com/nao1215/ewallet-gateway/pkg/middleware"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/zap"
)

// バックエンドへ伝える呼び出し元の識別ヘッダー。
const (
	HeaderUserID       = "X-User-Id"
	HeaderUserUsername = "X-User-Username"
	HeaderUserRole     = "X-User-Role"
)

// identityHeaders は呼び出し元が指定しても必ず取り除くヘッダー。
// X-Role は一部のバックエンドが参照していた旧形式のヘッダー。
var identityHeaders = []string{HeaderUserID, HeaderUserUsername, HeaderUserRole, "X-Role"}

// hopByHopHeaders はプロキシで転送してはならないホップバイホップヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// statusClientClosedRequest は呼び出し元が応答を待たずに切断した場合に記録するステータス。
const statusClientClosedRequest = 499

// Forwarder はリクエストをバックエンドへ転送し、レスポンスを中継する。
type Forwarder struct {
	client  *httpclient.Client
	logger  *zap.Logger
	metrics *Metrics
}

// NewForwarder は新しいForwarderを生成する。
func NewForwarder(client *httpclient.Client, logger *zap.Logger, metrics *Metrics) *Forwarder {
	return &Forwarder{client: client, logger: logger, metrics: metrics}
}

// Forward はリクエストを転送先URLへ送り、レスポンスをそのまま中継する。
// レスポンスヘッダーを書き出す前に失敗した場合は *Error を返す。
// 失敗しても再試行しない。
func (f *Forwarder) Forward(c *gin.Context, entry RouteEntry, target *url.URL) error {
	in := c.Request
	ctx, cancel := context.WithTimeout(in.Context(), entry.Timeout)
	defer cancel()

	out, err := newOutboundRequest(ctx, in, target, middleware.GetRequestID(c))
	if err != nil {
		return errInternal(err)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		if httpclient.IsCanceled(err) || in.Context().Err() != nil {
			f.logger.Info("client closed request before upstream responded",
				zap.String("route", entry.Name),
				zap.String("request_id", middleware.GetRequestID(c)),
			)
			f.metrics.UpstreamError(entry.Name, "canceled")
			return newError(KindClient, statusClientClosedRequest, "", err)
		}
		timeout := httpclient.IsTimeout(err)
		kind := "unavailable"
		if timeout {
			kind = "timeout"
		}
		f.logger.Error("upstream request failed",
			zap.String("route", entry.Name),
			zap.String("backend", entry.Backend.Host),
			zap.String("kind", kind),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		f.metrics.UpstreamError(entry.Name, kind)
		return errUpstream(err, timeout)
	}
	defer resp.Body.Close()

	relayHeaders(c.Writer.Header(), resp.Header)

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// ヘッダー送信後のためステータスは変更できない
		f.logger.Warn("relaying upstream response body failed",
			zap.String("route", entry.Name),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
	}
	return nil
}

// newOutboundRequest はバックエンドへ送るリクエストを組み立てる。
// 元のヘッダーからホップバイホップヘッダーと識別ヘッダーを取り除き、
// 検証済みクレームがあればそこから識別ヘッダーを付け直す。
func newOutboundRequest(ctx context.Context, in *http.Request, target *url.URL, requestID string) (*http.Request, error) {
	var body io.Reader = in.Body
	if in.ContentLength == 0 || in.Body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.URL = target
	if body != http.NoBody {
		out.ContentLength = in.ContentLength
	}

	out.Header = make(http.Header, len(in.Header)+6)
	for k, vv := range in.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	removeHopByHop(out.Header)
	removeIdentityHeaders(out.Header)

	if claims, ok := token.FromContext(in.Context()); ok {
		out.Header.Set(HeaderUserID, strconv.FormatInt(claims.SubjectID, 10))
		out.Header.Set(HeaderUserUsername, claims.Username)
		out.Header.Set(HeaderUserRole, string(claims.Role))
	}

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := out.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)
	if requestID != "" {
		out.Header.Set(middleware.HeaderRequestID, requestID)
	}
	if _, ok := out.Header["User-Agent"]; !ok {
		// 既定のUser-Agentを付与させない
		out.Header.Set("User-Agent", "")
	}
	return out, nil
}

// removeHopByHop はホップバイホップヘッダーと、Connectionヘッダーで指定されたヘッダーを取り除く。
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// relayHeaders はバックエンドのレスポンスヘッダーを dst に書き写す。
// バックエンドが返したキーはミドルウェアが設定済みの値を置き換える。
func relayHeaders(dst, src http.Header) {
	for k, vv := range src {
		if len(vv) == 0 {
			continue
		}
		dst[k] = append([]string(nil), vv...)
	}
	removeHopByHop(dst)
}

// removeIdentityHeaders は識別ヘッダーを取り除く。
// 大文字小文字を区別せず、X_User_Role のように "_" で区切った表記も識別ヘッダーとみなす。
func removeIdentityHeaders(h http.Header) {
	for k := range h {
		if isIdentityHeader(k) {
			delete(h, k)
		}
	}
}

func isIdentityHeader(key string) bool {
	key = strings.ReplaceAll(key, "_", "-")
	for _, name := range identityHeaders {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
