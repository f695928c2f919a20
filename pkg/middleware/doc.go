// Package middleware はゲートウェイのGinエンジンで使用する共通ミドルウェアを提供する。
//
// リクエストIDの付与、アクセスログ、パニックリカバリ、CORS設定を含む。
// 認証はミドルウェアではなく、ゲートウェイのパイプラインで明示的に行う。
package middleware
