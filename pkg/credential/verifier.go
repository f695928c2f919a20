package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/ewallet-gateway/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL はログイン成功時に発行するトークンの有効期間。
const TokenTTL = 24 * time.Hour

// DefaultCost はパスワードハッシュ生成時のbcryptコストの既定値。
const DefaultCost = 10

// ErrInvalidCredentials はユーザー名またはパスワードが一致しない場合のエラー。
// ユーザーが存在しない場合も同じエラーを返し、どちらが誤っていたかを区別しない。
var ErrInvalidCredentials = errors.New("ユーザー名またはパスワードが正しくありません")

// User はレスポンスに含めるユーザー情報。パスワード情報は含まない。
type User struct {
	// ID はユーザーの一意識別子。
	ID int64 `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Role はユーザーのロール。
	Role token.Role `json:"role"`
}

// Result はログイン成功時の結果。
type Result struct {
	// Token は発行したアイデンティティトークン。
	Token string
	// Claims はトークンに埋め込んだクレーム。
	Claims token.Claims
	// User はユーザー情報の要約。
	User User
}

// Verifier はユーザー名とパスワードを照合し、一致した場合にトークンを発行する。
type Verifier struct {
	// store は資格情報の外部ストア。
	store Store
	// codec はトークンの発行に使用する。
	codec *token.Codec
	// dummyHash はユーザーが存在しない場合の照合に使うハッシュ。
	dummyHash []byte
}

// NewVerifier は新しいVerifierを生成する。
func NewVerifier(store Store, codec *token.Codec) (*Verifier, error) {
	if store == nil || codec == nil {
		return nil, errors.New("storeとcodecは必須です")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("ewallet-gateway-dummy"), DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}
	return &Verifier{store: store, codec: codec, dummyHash: dummy}, nil
}

// Authenticate はユーザー名とパスワードを照合する。
// 一致しない場合やユーザーが存在しない場合は ErrInvalidCredentials を返す。
func (v *Verifier) Authenticate(ctx context.Context, username, password string) (Result, error) {
	record, err := v.store.LookupByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// 応答時間でユーザーの有無が分からないよう、存在しない場合も照合を行う
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("資格情報の取得に失敗: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return Result{}, ErrInvalidCredentials
	}

	id := token.Identity{
		SubjectID: record.SubjectID,
		Username:  record.Username,
		Role:      record.Role,
	}
	signed, claims, err := v.codec.Issue(id, TokenTTL)
	if err != nil {
		return Result{}, fmt.Errorf("トークンの発行に失敗: %w", err)
	}

	return Result{
		Token:  signed,
		Claims: claims,
		User: User{
			ID:       record.SubjectID,
			Username: record.Username,
			Role:     record.Role,
		},
	}, nil
}

// HashPassword は平文パスワードのbcryptハッシュを返す。
// costが0の場合は DefaultCost を使用する。
func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("bcryptのコストは%dから%dの範囲で指定してください: %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}
