package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/credential"
	"github.com/nao1215/ewallet-gateway/pkg/middleware"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/zap"
)

// systemName は /health が返すシステム名。
const systemName = "Digital E-Wallet API Gateway"

// healthTimeFormat はミリ秒精度のUTCタイムスタンプ形式。
const healthTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// pipeline は /api 配下の転送処理。
	pipeline *pipeline
	// verifier はログイン時の資格情報の照合に使う。
	verifier *credential.Verifier
	// limiter はログイン試行の制限。nilの場合は制限しない。
	limiter *loginLimiter
	// metrics はPrometheusメトリクス。
	metrics *Metrics
	// logger は構造化ロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Deps はServerの生成に必要な依存関係。
type Deps struct {
	Config    Config
	Routes    *RouteTable
	Codec     *token.Codec
	Verifier  *credential.Verifier
	Forwarder *Forwarder
	Metrics   *Metrics
	Logger    *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(d Deps) *Server {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// ClientIPは直接の接続元アドレスを使う
	_ = router.SetTrustedProxies(nil)

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(d.Logger))
	router.Use(d.Metrics.Middleware())
	router.Use(middleware.Recovery(d.Logger))
	router.Use(middleware.CORS(d.Config.CORSAllowedOrigins))

	s := &Server{
		router: router,
		pipeline: &pipeline{
			routes:    d.Routes,
			codec:     d.Codec,
			forwarder: d.Forwarder,
			logger:    d.Logger,
			metrics:   d.Metrics,
		},
		verifier: d.Verifier,
		limiter:  newLoginLimiter(d.Config.LoginRatePerMinute, d.Config.LoginRateBurst),
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証エンドポイント（認証不要）
	s.router.POST("/auth/login", s.handleLogin())

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	// メトリクス
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// バックエンドへの転送
	s.router.Any("/api/*path", s.pipeline.serve)

	// 上記以外もルートテーブルで解決し、一致しなければ404を返す
	s.router.NoRoute(s.pipeline.serve)
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password は平文のパスワード。
	Password string `json:"password" binding:"required"`
}

// loginResponse はログイン成功時のレスポンスボディ。
type loginResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	User    credential.User `json:"user"`
}

// handleLogin はユーザー名とパスワードを照合してトークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			s.metrics.Login("rate_limited")
			s.logger.Warn("login rate limited",
				zap.String("remote_addr", c.ClientIP()),
				zap.String("request_id", middleware.GetRequestID(c)),
			)
			writeError(c, newError(KindClient, http.StatusTooManyRequests, ReasonTooManyRequests, nil))
			return
		}

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.metrics.Login("invalid_request")
			writeError(c, newError(KindClient, http.StatusBadRequest, ReasonInvalidRequest, err))
			return
		}

		result, err := s.verifier.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, credential.ErrInvalidCredentials) {
				s.metrics.Login("invalid_credentials")
				s.logger.Warn("login rejected",
					zap.String("kind", "auth"),
					zap.String("username", req.Username),
					zap.String("remote_addr", c.ClientIP()),
					zap.String("request_id", middleware.GetRequestID(c)),
				)
				writeError(c, newError(KindAuth, http.StatusUnauthorized, ReasonInvalidCredentials, err))
				return
			}
			s.metrics.Login("error")
			s.logger.Error("login failed",
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			writeError(c, errInternal(err))
			return
		}

		s.metrics.Login("success")
		// 後続のアクセスログにユーザーを記録する
		c.Request = c.Request.WithContext(token.NewContext(c.Request.Context(), result.Claims))
		c.JSON(http.StatusOK, loginResponse{
			Success: true,
			Token:   result.Token,
			User:    result.User,
		})
	}
}

// handleHealth はヘルスチェックのハンドラを返す。バックエンドの状態には依存しない。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "OK",
			"system":    systemName,
			"timestamp": s.now().UTC().Format(healthTimeFormat),
		})
	}
}
