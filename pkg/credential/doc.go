// Package credential はユーザー名とパスワードによるログイン認証を提供する。
//
// 資格情報の保存先は外部のストアであり、本パッケージはStoreインタフェースを通じて
// レコードを参照するだけで、書き込みは行わない。照合にはbcryptを用い、
// 一致した場合はtokenパッケージでアイデンティティトークンを発行する。
package credential
