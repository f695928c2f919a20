package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nao1215/ewallet-gateway/pkg/credential"
	"github.com/nao1215/ewallet-gateway/pkg/httpclient"
	"github.com/nao1215/ewallet-gateway/pkg/logging"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module はゲートウェイの依存関係グラフを返す。loadは設定の読み込み関数。
// 設定やルート定義に誤りがある場合はアプリケーションの構築に失敗し、リッスンは開始されない。
func Module(load func() (Config, error)) fx.Option {
	return fx.Options(
		fx.Provide(
			load,
			provideLogger,
			provideRouteTable,
			provideCodec,
			provideStore,
			credential.NewVerifier,
			provideHTTPClient,
			NewForwarder,
			NewMetrics,
			provideServer,
			newListener,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerHooks),
	)
}

func provideLogger(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, &ConfigError{Field: "LOG_LEVEL", Err: err}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func provideRouteTable(cfg Config, logger *zap.Logger) (*RouteTable, error) {
	table, err := NewRouteTable(cfg.Routes, cfg.ForwardTimeout)
	if err != nil {
		return nil, err
	}
	for _, e := range table.Entries() {
		logger.Info("route registered",
			zap.String("route", e.Name),
			zap.String("prefix", e.Prefix),
			zap.String("backend", e.Backend.String()),
			zap.Bool("requires_auth", e.RequiresAuth),
			zap.Duration("timeout", e.Timeout),
		)
	}
	return table, nil
}

func provideCodec(cfg Config) (*token.Codec, error) {
	codec, err := token.NewCodec(cfg.JWTSecret, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, &ConfigError{Field: "JWT_SECRET", Err: err}
	}
	return codec, nil
}

func provideStore(lc fx.Lifecycle, cfg Config, logger *zap.Logger) (credential.Store, error) {
	if cfg.CredentialsDB == "" {
		logger.Warn("CREDENTIALS_DB is not set; using built-in demo users")
		return credential.NewMemoryStore(credential.DemoRecords()...)
	}

	store, err := credential.OpenSQLite(context.Background(), cfg.CredentialsDB)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	logger.Info("credential store opened", zap.String("path", cfg.CredentialsDB))
	return store, nil
}

func provideHTTPClient(lc fx.Lifecycle) *httpclient.Client {
	client := httpclient.New()
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.CloseIdleConnections()
			return nil
		},
	})
	return client
}

// serverDeps はprovideServerに注入する依存関係。
type serverDeps struct {
	fx.In
	Config    Config
	Routes    *RouteTable
	Codec     *token.Codec
	Verifier  *credential.Verifier
	Forwarder *Forwarder
	Metrics   *Metrics
	Logger    *zap.Logger
}

func provideServer(d serverDeps) *Server {
	return NewServer(Deps{
		Config:    d.Config,
		Routes:    d.Routes,
		Codec:     d.Codec,
		Verifier:  d.Verifier,
		Forwarder: d.Forwarder,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	})
}

// Listener は起動後に実際にリッスンしているアドレスを保持する。
type Listener struct {
	mu   sync.Mutex
	addr net.Addr
}

// Addr はリッスン中のアドレスを返す。起動前はnilを返す。
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func newListener() *Listener {
	return &Listener{}
}

func (l *Listener) set(addr net.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addr = addr
}

func registerHooks(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg Config, srv *Server, listener *Listener, logger *zap.Logger) {
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", httpSrv.Addr)
			if err != nil {
				return err
			}
			listener.set(ln.Addr())
			logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("gateway stopping")
			ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(ctx)
		},
	})
}
