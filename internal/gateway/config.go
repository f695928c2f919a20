package gateway

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	"github.com/pelletier/go-toml/v2"
)

// Config はゲートウェイの起動設定。起動時に一度だけ構築し、以後は変更しない。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"3000"`
	// JWTSecret はトークン署名用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	// JWTIssuer はissクレームに設定する値。
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"ewallet-gateway"`
	// ForwardTimeout はルートに個別指定が無い場合の転送タイムアウト。
	ForwardTimeout time.Duration `env:"FORWARD_TIMEOUT" envDefault:"30s"`
	// RoutesFile はTOML形式のルート定義ファイルのパス。空の場合は既定のルートを使う。
	RoutesFile string `env:"ROUTES_FILE"`
	// CredentialsDB は資格情報を格納したSQLiteファイルのパス。空の場合はデモユーザーを使う。
	CredentialsDB string `env:"CREDENTIALS_DB"`
	// CORSAllowedOrigins はCORSで許可するオリジンの一覧。
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	// LoginRatePerMinute はクライアントごとに1分あたり許可するログイン試行回数。0で無効。
	LoginRatePerMinute int `env:"LOGIN_RATE_PER_MINUTE" envDefault:"30"`
	// LoginRateBurst はログイン試行のバースト許容量。
	LoginRateBurst int `env:"LOGIN_RATE_BURST" envDefault:"10"`
	// LogLevel はログ出力レベル。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFile はローテーション付きで書き出すログファイルのパス。
	LogFile string `env:"LOG_FILE"`
	// ShutdownTimeout はグレースフルシャットダウンの待機時間。
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Routes はバックエンドURLを解決済みのルート定義。
	Routes []RouteSpec `env:"-"`
}

// RouteSpec は1件のルート定義。ルート定義ファイルの [[routes]] に対応する。
type RouteSpec struct {
	// Name はルートの名前。ログとメトリクスのラベルに使う。
	Name string `toml:"name"`
	// Prefix は照合するパスプレフィックス。
	Prefix string `toml:"prefix"`
	// BackendEnv はバックエンドURLを読み出す環境変数名。
	BackendEnv string `toml:"backend_env"`
	// BackendURL はバックエンドのベースURL。BackendEnvより優先する。
	BackendURL string `toml:"backend_url"`
	// Public がtrueの場合は認証せずに転送する。
	Public bool `toml:"public"`
	// Timeout はこのルートの転送タイムアウト。空の場合は既定値を使う。
	Timeout string `toml:"timeout"`
	// Rewrite はパスの書き換え規則。未指定の場合はプレフィックスを取り除く。
	Rewrite *RewriteSpec `toml:"rewrite"`
}

// RewriteSpec はパスの書き換え規則の定義。
type RewriteSpec struct {
	// Strip はパス先頭から取り除く文字列。
	Strip string `toml:"strip"`
	// Replace は取り除いた位置に挿入する文字列。
	Replace string `toml:"replace"`
}

// routeFile はルート定義ファイル全体。
type routeFile struct {
	Routes []RouteSpec `toml:"routes"`
}

// DefaultRoutes は既定のルート定義を返す。
// 各バックエンドへの対応は明示的な環境変数で指定する。
func DefaultRoutes() []RouteSpec {
	return []RouteSpec{
		{Name: "user-service", Prefix: "/api/user-service", BackendEnv: "USER_SERVICE_URL"},
		{Name: "wallet-service", Prefix: "/api/wallet-service", BackendEnv: "WALLET_SERVICE_URL"},
		{Name: "payment-service", Prefix: "/api/payment-service", BackendEnv: "PAYMENT_SERVICE_URL"},
		{Name: "notification-service", Prefix: "/api/notification-service", BackendEnv: "NOTIFICATION_SERVICE_URL"},
	}
}

// LoadFromEnv はプロセスの環境変数から設定を読み込む。
func LoadFromEnv() (Config, error) {
	return Load(env.ToMap(os.Environ()))
}

// Load は与えられた環境変数の集合から設定を読み込み、検証する。
func Load(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, &ConfigError{Field: "environment", Err: err}
	}

	specs := DefaultRoutes()
	if cfg.RoutesFile != "" {
		data, err := os.ReadFile(cfg.RoutesFile)
		if err != nil {
			return Config{}, &ConfigError{Field: "ROUTES_FILE", Err: err}
		}
		specs, err = ParseRoutes(data)
		if err != nil {
			return Config{}, err
		}
	}

	for i := range specs {
		if specs[i].BackendURL != "" || specs[i].BackendEnv == "" {
			continue
		}
		u, ok := environ[specs[i].BackendEnv]
		if !ok || u == "" {
			return Config{}, &ConfigError{
				Field: specs[i].BackendEnv,
				Err:   fmt.Errorf("ルート %q のバックエンドURLが設定されていません", specs[i].Name),
			}
		}
		specs[i].BackendURL = u
	}
	cfg.Routes = specs

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseRoutes はTOML形式のルート定義を解析する。未知のキーはエラーとする。
func ParseRoutes(data []byte) ([]RouteSpec, error) {
	var f routeFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, &ConfigError{Field: "ROUTES_FILE", Err: fmt.Errorf("ルート定義の解析に失敗: %w", err)}
	}
	if len(f.Routes) == 0 {
		return nil, &ConfigError{Field: "ROUTES_FILE", Err: fmt.Errorf("ルートが1件も定義されていません")}
	}
	return f.Routes, nil
}

// Validate はルート以外の設定値を検証する。ルートはNewRouteTableで検証する。
func (c Config) Validate() error {
	if len(c.JWTSecret) < token.MinSecretLength {
		return &ConfigError{Field: "JWT_SECRET", Err: fmt.Errorf("%dバイト以上必要です", token.MinSecretLength)}
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return &ConfigError{Field: "PORT", Err: fmt.Errorf("不正なポート番号です: %q", c.Port)}
	}
	if c.ForwardTimeout <= 0 {
		return &ConfigError{Field: "FORWARD_TIMEOUT", Err: fmt.Errorf("正の値が必要です: %s", c.ForwardTimeout)}
	}
	if c.ShutdownTimeout <= 0 {
		return &ConfigError{Field: "SHUTDOWN_TIMEOUT", Err: fmt.Errorf("正の値が必要です: %s", c.ShutdownTimeout)}
	}
	if c.LoginRatePerMinute < 0 {
		return &ConfigError{Field: "LOGIN_RATE_PER_MINUTE", Err: fmt.Errorf("負の値は指定できません: %d", c.LoginRatePerMinute)}
	}
	if c.LoginRateBurst < 0 {
		return &ConfigError{Field: "LOGIN_RATE_BURST", Err: fmt.Errorf("負の値は指定できません: %d", c.LoginRateBurst)}
	}
	return nil
}

// Addr はリッスンアドレスを返す。
func (c Config) Addr() string {
	return ":" + c.Port
}
