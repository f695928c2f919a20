package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestRequestLogger はRequestLoggerミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("未認証リクエストのアクセスログが出力されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.InfoLevel)
		router := gin.New()
		router.Use(RequestID(), RequestLogger(zap.New(core)))
		router.GET("/health", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(HeaderRequestID, "req-log-1")
		router.ServeHTTP(httptest.NewRecorder(), req)

		entries := logs.FilterMessage("http access").All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["request_id"] != "req-log-1" {
			t.Errorf("request_id = %v, want %q", fields["request_id"], "req-log-1")
		}
		if fields["method"] != http.MethodGet {
			t.Errorf("method = %v, want %q", fields["method"], http.MethodGet)
		}
		if fields["status"] != int64(http.StatusOK) {
			t.Errorf("status = %v, want %d", fields["status"], http.StatusOK)
		}
		if fields["authenticated"] != false {
			t.Errorf("authenticated = %v, want false", fields["authenticated"])
		}
		if _, ok := fields["username"]; ok {
			t.Error("未認証リクエストにusernameが記録されている")
		}
	})

	t.Run("認証済みリクエストではユーザー名とロールが記録されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.InfoLevel)
		router := gin.New()
		router.Use(RequestID(), RequestLogger(zap.New(core)))
		router.GET("/api/wallet/balance", func(c *gin.Context) {
			claims := token.Claims{Identity: token.Identity{SubjectID: 1, Username: "user1", Role: token.RoleUser}}
			c.Request = c.Request.WithContext(token.NewContext(c.Request.Context(), claims))
			c.Set(ContextKeyRoute, "wallet")
			c.Status(http.StatusAccepted)
		})

		req := httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)

		entries := logs.FilterMessage("http access").All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["username"] != "user1" {
			t.Errorf("username = %v, want %q", fields["username"], "user1")
		}
		if fields["role"] != "user" {
			t.Errorf("role = %v, want %q", fields["role"], "user")
		}
		if fields["route"] != "wallet" {
			t.Errorf("route = %v, want %q", fields["route"], "wallet")
		}
		if fields["status"] != int64(http.StatusAccepted) {
			t.Errorf("status = %v, want %d", fields["status"], http.StatusAccepted)
		}
	})
}
