package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client はバックエンドサービスへの転送用HTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// Option はClientの設定を変更する関数。
type Option func(*http.Transport)

// WithMaxIdleConnsPerHost はバックエンドごとに保持するアイドル接続数を設定する。
func WithMaxIdleConnsPerHost(n int) Option {
	return func(t *http.Transport) {
		t.MaxIdleConnsPerHost = n
	}
}

// WithDialTimeout はバックエンドへのTCP接続確立のタイムアウトを設定する。
func WithDialTimeout(d time.Duration) Option {
	return func(t *http.Transport) {
		t.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
	}
}

// New は新しい転送用HTTPクライアントを生成する。
// クライアント全体のタイムアウトは設定せず、呼び出し側がコンテキストで期限を与える。
func New(opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	// レスポンスボディを加工せずに中継するため透過的な解凍を行わない
	transport.DisableCompression = true
	for _, opt := range opts {
		opt(transport)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do はリクエストをバックエンドへ送信する。
// 3xxレスポンスはエラーにならず、そのまま返される。
// 呼び出し側はエラーがない場合レスポンスボディをCloseする必要がある。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("バックエンドへのリクエスト送信に失敗: %w", err)
	}
	return resp, nil
}

// CloseIdleConnections は保持しているアイドル接続を閉じる。
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// IsTimeout はエラーがタイムアウトによるものかどうかを判定する。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCanceled はエラーが呼び出し元のキャンセルによるものかどうかを判定する。
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
