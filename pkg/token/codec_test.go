package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用の署名シークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newTestCodec はテスト用のCodecを生成する。
func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()

	c, err := NewCodec(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return c
}

// signRaw は任意のヘッダーとペイロードをHS256で署名したトークン文字列を返す。
func signRaw(secret, header, payload string) string {
	enc := base64.RawURLEncoding
	input := enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return input + "." + enc.EncodeToString(mac.Sum(nil))
}

// TestNewCodec はNewCodec関数を検証する。
func TestNewCodec(t *testing.T) {
	t.Parallel()

	t.Run("空のシークレットは拒否されること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewCodec(""); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("err = %v, want %v", err, ErrInvalidSecret)
		}
	})

	t.Run("短すぎるシークレットは拒否されること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewCodec("short"); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("err = %v, want %v", err, ErrInvalidSecret)
		}
	})

	t.Run("十分な長さのシークレットで生成できること", func(t *testing.T) {
		t.Parallel()

		c, err := NewCodec(strings.Repeat("s", MinSecretLength))
		if err != nil {
			t.Fatalf("NewCodec()でエラーが発生: %v", err)
		}
		if c.issuer != DefaultIssuer {
			t.Errorf("issuer = %q, want %q", c.issuer, DefaultIssuer)
		}
	})
}

// TestIssueAndVerify は発行したトークンを検証できることを確認する。
func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	t.Run("発行したクレームがそのまま取り出せること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		ids := []Identity{
			{SubjectID: 1, Username: "user1", Role: RoleUser},
			{SubjectID: 2, Username: "admin", Role: RoleAdmin},
			{SubjectID: 9007199254740991, Username: "日本語ユーザー", Role: RoleUser},
		}
		for _, id := range ids {
			tokenStr, issued, err := c.Issue(id, time.Hour)
			if err != nil {
				t.Fatalf("Issue(%+v)でエラーが発生: %v", id, err)
			}

			got, err := c.Verify(tokenStr)
			if err != nil {
				t.Fatalf("Verify()でエラーが発生: %v", err)
			}
			if got.Identity != id {
				t.Errorf("Identity = %+v, want %+v", got.Identity, id)
			}
			if !got.ExpiresAt.Equal(issued.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, issued.ExpiresAt)
			}
			if !got.IssuedAt.Equal(issued.IssuedAt) {
				t.Errorf("IssuedAt = %v, want %v", got.IssuedAt, issued.IssuedAt)
			}
		}
	})

	t.Run("有効期限が発行時刻+ttlであること", func(t *testing.T) {
		t.Parallel()

		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		c := newTestCodec(t, WithClock(func() time.Time { return fixed }))

		_, issued, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, 24*time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if want := fixed.Add(24 * time.Hour); !issued.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, want)
		}
		if !issued.IssuedAt.Equal(fixed) {
			t.Errorf("IssuedAt = %v, want %v", issued.IssuedAt, fixed)
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t, WithIssuer("custom-issuer"))
		tokenStr, _, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		payload := &jwtClaims{}
		parsed, _, err := jwt.NewParser().ParseUnverified(tokenStr, payload)
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if parsed.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", parsed.Method.Alg(), "HS256")
		}
		if payload.Issuer != "custom-issuer" {
			t.Errorf("Issuer = %q, want %q", payload.Issuer, "custom-issuer")
		}
		if payload.UserID != 1 || payload.Username != "user1" || payload.Role != RoleUser {
			t.Errorf("ペイロードが不正: %+v", payload)
		}
	})

	t.Run("不正な識別情報では発行できないこと", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		invalid := []Identity{
			{SubjectID: 0, Username: "user1", Role: RoleUser},
			{SubjectID: 1, Username: "", Role: RoleUser},
			{SubjectID: 1, Username: "user1", Role: "root"},
		}
		for _, id := range invalid {
			if _, _, err := c.Issue(id, time.Hour); !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("Issue(%+v) err = %v, want %v", id, err, ErrInvalidIdentity)
			}
		}
	})
}

// TestIssue_SecondPrecision は発行時刻と有効期限が秒単位で埋め込まれることを検証する。
func TestIssue_SecondPrecision(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 14, 9, 30, 0, 900_000_000, time.UTC)
	c := newTestCodec(t, WithClock(func() time.Time { return now }))

	tokenStr, issued, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}
	wantIat := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	wantExp := time.Date(2026, 10, 14, 9, 30, 2, 0, time.UTC)
	if !issued.IssuedAt.Equal(wantIat) {
		t.Errorf("IssuedAt = %v, want %v", issued.IssuedAt, wantIat)
	}
	if !issued.ExpiresAt.Equal(wantExp) {
		t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, wantExp)
	}

	got, err := c.Verify(tokenStr)
	if err != nil {
		t.Fatalf("Verify()でエラーが発生: %v", err)
	}
	if !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("埋め込まれたexp = %v, want %v", got.ExpiresAt, issued.ExpiresAt)
	}
}

// TestVerify_Tampered は改ざんされたトークンの検証を確認する。
func TestVerify_Tampered(t *testing.T) {
	t.Parallel()

	t.Run("どのビットを反転しても検証に成功しないこと", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		tokenStr, _, err := c.Issue(Identity{SubjectID: 42, Username: "user1", Role: RoleUser}, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		for i := 0; i < len(tokenStr); i++ {
			for bit := 0; bit < 8; bit++ {
				b := []byte(tokenStr)
				b[i] ^= 1 << bit
				tampered := string(b)

				_, err := c.Verify(tampered)
				if err == nil {
					t.Fatalf("位置%dのビット%dを反転したトークンが検証に成功した", i, bit)
				}
				// "." を生む反転や "." を壊す反転も署名不一致になる
				if !errors.Is(err, ErrBadSignature) {
					t.Errorf("位置%dのビット%d: err = %v, want %v", i, bit, err, ErrBadSignature)
				}
			}
		}
	})

	t.Run("異なるシークレットで署名されたトークンは署名不一致になること", func(t *testing.T) {
		t.Parallel()

		other, err := NewCodec("another-secret-key-0123456789")
		if err != nil {
			t.Fatalf("NewCodec()でエラーが発生: %v", err)
		}
		tokenStr, _, err := other.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := newTestCodec(t).Verify(tokenStr); !errors.Is(err, ErrBadSignature) {
			t.Errorf("err = %v, want %v", err, ErrBadSignature)
		}
	})

	t.Run("alg=noneのトークンは署名不一致になること", func(t *testing.T) {
		t.Parallel()

		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"id": 2, "username": "admin", "role": "admin",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		tokenStr, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}

		if _, err := newTestCodec(t).Verify(tokenStr); !errors.Is(err, ErrBadSignature) {
			t.Errorf("err = %v, want %v", err, ErrBadSignature)
		}
	})

	t.Run("ロールを書き換えたペイロードは署名不一致になること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		tokenStr, _, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		parts := strings.Split(tokenStr, ".")
		raw, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		forged := strings.Replace(string(raw), `"role":"user"`, `"role":"admin"`, 1)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

		if _, err := c.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrBadSignature) {
			t.Errorf("err = %v, want %v", err, ErrBadSignature)
		}
	})
}

// TestVerify_Expired は期限切れトークンの検証を確認する。
func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	t.Run("ttlが負のトークンは期限切れになること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		tokenStr, _, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, -1*time.Second)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := c.Verify(tokenStr); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want %v", err, ErrExpired)
		}
	})

	t.Run("有効期限ちょうどの時刻では期限切れになること", func(t *testing.T) {
		t.Parallel()

		issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		now := issuedAt
		c := newTestCodec(t, WithClock(func() time.Time { return now }))

		tokenStr, _, err := c.Issue(Identity{SubjectID: 1, Username: "user1", Role: RoleUser}, time.Minute)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		now = issuedAt.Add(time.Minute - time.Second)
		if _, err := c.Verify(tokenStr); err != nil {
			t.Errorf("有効期限前の検証でエラーが発生: %v", err)
		}

		now = issuedAt.Add(time.Minute)
		if _, err := c.Verify(tokenStr); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want %v", err, ErrExpired)
		}
	})
}

// TestVerify_Malformed は構造が不正なトークンの検証を確認する。
func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	t.Run("区切り文字を含まない文字列は形式エラーになること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		for _, s := range []string{"", "invalid-token"} {
			if _, err := c.Verify(s); !errors.Is(err, ErrMalformed) {
				t.Errorf("Verify(%q) err = %v, want %v", s, err, ErrMalformed)
			}
		}
	})

	t.Run("署名の無いセグメント数不正の文字列は署名不一致になること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		for _, s := range []string{"a.b", "a.b.c.d", "."} {
			if _, err := c.Verify(s); !errors.Is(err, ErrBadSignature) {
				t.Errorf("Verify(%q) err = %v, want %v", s, err, ErrBadSignature)
			}
		}
	})

	t.Run("署名は正しいがセグメント数が3でない場合は形式エラーになること", func(t *testing.T) {
		t.Parallel()

		enc := base64.RawURLEncoding
		sign := func(input string) string {
			mac := hmac.New(sha256.New, []byte(testSecret))
			mac.Write([]byte(input))
			return input + "." + enc.EncodeToString(mac.Sum(nil))
		}
		c := newTestCodec(t)
		for _, input := range []string{"eyJhbGciOiJIUzI1NiJ9", "a.b.c"} {
			if _, err := c.Verify(sign(input)); !errors.Is(err, ErrMalformed) {
				t.Errorf("Verify(%q) err = %v, want %v", sign(input), err, ErrMalformed)
			}
		}
	})

	t.Run("署名は正しいがペイロードがJSONでない場合は形式エラーになること", func(t *testing.T) {
		t.Parallel()

		tokenStr := signRaw(testSecret, `{"alg":"HS256","typ":"JWT"}`, "not-json")
		if _, err := newTestCodec(t).Verify(tokenStr); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want %v", err, ErrMalformed)
		}
	})

	t.Run("expクレームが無い場合は形式エラーになること", func(t *testing.T) {
		t.Parallel()

		tokenStr := signRaw(testSecret, `{"alg":"HS256","typ":"JWT"}`, `{"id":1,"username":"user1","role":"user"}`)
		if _, err := newTestCodec(t).Verify(tokenStr); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want %v", err, ErrMalformed)
		}
	})

	t.Run("未知のロールは形式エラーになること", func(t *testing.T) {
		t.Parallel()

		c := newTestCodec(t)
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"id": 1, "username": "user1", "role": "root",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		if _, err := c.Verify(tokenStr); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want %v", err, ErrMalformed)
		}
	})
}

// TestContext はコンテキストへのクレーム格納を検証する。
func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("格納したクレームを取り出せること", func(t *testing.T) {
		t.Parallel()

		want := Claims{Identity: Identity{SubjectID: 7, Username: "user7", Role: RoleAdmin}}
		got, ok := FromContext(NewContext(context.Background(), want))
		if !ok {
			t.Fatal("クレームが取り出せない")
		}
		if got.Identity != want.Identity {
			t.Errorf("Identity = %+v, want %+v", got.Identity, want.Identity)
		}
	})

	t.Run("クレームが無い場合はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := FromContext(context.Background()); ok {
			t.Error("クレームが無いのにtrueが返った")
		}
	})
}
