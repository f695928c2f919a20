package token

import (
	"context"
	"time"
)

// Role はユーザーのロールを表す。
type Role string

const (
	// RoleUser は一般ユーザーのロール。
	RoleUser Role = "user"
	// RoleAdmin は管理者のロール。
	RoleAdmin Role = "admin"
)

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity はトークンに埋め込む呼び出し元の識別情報。
type Identity struct {
	// SubjectID はユーザーの一意識別子。
	SubjectID int64
	// Username はユーザー名。
	Username string
	// Role はユーザーのロール。
	Role Role
}

// Claims は検証済みトークンから取り出したクレーム。
type Claims struct {
	Identity
	// IssuedAt はトークンの発行時刻。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。この時刻以降は無効となる。
	ExpiresAt time.Time
}

type contextKey struct{}

// NewContext は検証済みクレームを保持するコンテキストを返す。
func NewContext(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext はコンテキストから検証済みクレームを取り出す。
// クレームが無い場合は第2戻り値がfalseになる。
func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(Claims)
	return claims, ok
}
