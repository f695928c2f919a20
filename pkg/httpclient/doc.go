// Package httpclient はゲートウェイからバックエンドサービスへ
// リクエストを転送するためのHTTPクライアントを提供する。
//
// リダイレクトは追跡せずそのまま呼び出し元へ中継する。
// タイムアウトはリクエストのコンテキストで個別に指定する。
package httpclient
