// Package gateway は電子ウォレットのAPI Gatewayの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// ログインでアイデンティティトークンを発行し、/api 配下のリクエストを
// ルートテーブルに従ってバックエンドサービスへ転送する。
// 転送時には呼び出し元が付与した識別ヘッダーを取り除き、
// 検証済みトークンのクレームから識別ヘッダーを付け直す。
package gateway
