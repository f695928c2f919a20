package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength は署名用シークレットに要求する最小バイト数。
const MinSecretLength = 16

// DefaultIssuer はissクレームの既定値。
const DefaultIssuer = "ewallet-gateway"

var (
	// ErrInvalidSecret は署名用シークレットが空または短すぎる場合のエラー。
	ErrInvalidSecret = errors.New("署名用シークレットが不正です")
	// ErrInvalidIdentity は発行対象の識別情報が不正な場合のエラー。
	ErrInvalidIdentity = errors.New("トークンに埋め込む識別情報が不正です")
	// ErrMalformed はトークンを期待する構造として解釈できない場合のエラー。
	ErrMalformed = errors.New("トークンの形式が不正です")
	// ErrBadSignature は署名が一致しない場合のエラー。
	ErrBadSignature = errors.New("トークンの署名が一致しません")
	// ErrExpired はトークンの有効期限が切れている場合のエラー。
	ErrExpired = errors.New("トークンの有効期限が切れています")
)

// jwtClaims はJWTのペイロード。キー名は既存クライアントが発行していたトークンに合わせる。
type jwtClaims struct {
	jwt.RegisteredClaims
	// UserID はユーザーの一意識別子。
	UserID int64 `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Role はユーザーのロール。
	Role Role `json:"role"`
}

// Codec はHS256でトークンを発行・検証する。
// 生成後は状態を変更しないため、複数のゴルーチンから同時に利用できる。
type Codec struct {
	// secret はHMAC署名用の秘密鍵。
	secret []byte
	// issuer はissクレームに設定する値。
	issuer string
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はCodecの設定を変更する関数。
type Option func(*Codec)

// WithIssuer はissクレームに設定する値を変更する。
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock は現在時刻の取得方法を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec は新しいCodecを生成する。
// シークレットが MinSecretLength バイト未満の場合は ErrInvalidSecret を返す。
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %dバイト以上が必要です", ErrInvalidSecret, MinSecretLength)
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue は識別情報に有効期限 now+ttl を付けて署名したトークンを返す。
// iatとexpは秒単位で切り捨てるため、expは now+ttl より最大1秒早くなる。
// 戻り値のClaimsは切り捨て後の、トークンに埋め込まれた内容と一致する。
func (c *Codec) Issue(id Identity, ttl time.Duration) (string, Claims, error) {
	if err := validateIdentity(id); err != nil {
		return "", Claims{}, err
	}

	now := c.now()
	payload := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   id.SubjectID,
		Username: id.Username,
		Role:     id.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("トークンの署名に失敗: %w", err)
	}

	return signed, Claims{
		Identity:  id,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
	}, nil
}

// Verify はトークンを検証し、埋め込まれたクレームを返す。
//
// 署名はセグメント構造やクレームの解釈より先に検証する。最後の "." より前を署名対象、
// 後ろを署名部として正規のエンコード文字列で比較するため、発行済みトークンの
// どのビットを改ざんしても ErrBadSignature になる。"." を含まない文字列は ErrMalformed。
func (c *Codec) Verify(tokenString string) (Claims, error) {
	dot := strings.LastIndexByte(tokenString, '.')
	if dot < 0 {
		return Claims{}, ErrMalformed
	}
	if !c.signatureMatches(tokenString[:dot], tokenString[dot+1:]) {
		return Claims{}, ErrBadSignature
	}
	if strings.Count(tokenString, ".") != 2 {
		return Claims{}, ErrMalformed
	}

	payload := &jwtClaims{}
	_, err := jwt.ParseWithClaims(tokenString, payload, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}

	claims := Claims{
		Identity: Identity{
			SubjectID: payload.UserID,
			Username:  payload.Username,
			Role:      payload.Role,
		},
		ExpiresAt: payload.ExpiresAt.Time,
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = payload.IssuedAt.Time
	}
	if err := validateIdentity(claims.Identity); err != nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

// signatureMatches は署名対象文字列のHMACと署名セグメントを定数時間で比較する。
func (c *Codec) signatureMatches(signingInput, signature string) bool {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(signingInput))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// classify はjwtライブラリのエラーを本パッケージのエラーに変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}

func validateIdentity(id Identity) error {
	if id.SubjectID <= 0 {
		return fmt.Errorf("%w: subject_id=%d", ErrInvalidIdentity, id.SubjectID)
	}
	if id.Username == "" {
		return fmt.Errorf("%w: usernameが空です", ErrInvalidIdentity)
	}
	if !id.Role.Valid() {
		return fmt.Errorf("%w: role=%q", ErrInvalidIdentity, id.Role)
	}
	return nil
}
