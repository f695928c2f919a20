package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nao1215/ewallet-gateway/internal/gateway"
	"golang.org/x/crypto/bcrypt"
)

// TestHashPasswordCommand はhash-passwordサブコマンドを検証する。
func TestHashPasswordCommand(t *testing.T) {
	t.Parallel()

	t.Run("引数のパスワードからbcryptハッシュが出力されること", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"hash-password", "--cost", "4", "s3cret"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("Execute()でエラーが発生: %v", err)
		}

		hash := strings.TrimSpace(out.String())
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
			t.Errorf("出力されたハッシュが一致しない: %v", err)
		}
		if c, err := bcrypt.Cost([]byte(hash)); err != nil || c != 4 {
			t.Errorf("cost = %d (err=%v), want 4", c, err)
		}
	})

	t.Run("標準入力からパスワードを読めること", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader("from-stdin\n"))
		cmd.SetArgs([]string{"hash-password", "--cost", "4"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("Execute()でエラーが発生: %v", err)
		}

		hash := strings.TrimSpace(out.String())
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("from-stdin")); err != nil {
			t.Errorf("出力されたハッシュが一致しない: %v", err)
		}
	})

	t.Run("範囲外のコストはエラーになること", func(t *testing.T) {
		t.Parallel()

		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"hash-password", "--cost", "99", "s3cret"})
		if err := cmd.Execute(); err == nil {
			t.Fatal("Execute()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("空のパスワードはエラーになること", func(t *testing.T) {
		t.Parallel()

		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader(""))
		cmd.SetArgs([]string{"hash-password"})
		if err := cmd.Execute(); err == nil {
			t.Fatal("Execute()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestServe は設定エラー時にサーバーが起動しないことを検証する。
func TestServe(t *testing.T) {
	t.Parallel()

	err := serve(func() (gateway.Config, error) {
		return gateway.Load(map[string]string{"JWT_SECRET": "short"})
	})
	if err == nil {
		t.Fatal("serve()がエラーを返すべきだが、nilが返った")
	}
}
