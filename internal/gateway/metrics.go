package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ewallet-gateway/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute はルートに一致しなかったリクエストのラベル値。
const unmatchedRoute = "none"

// Metrics はゲートウェイのPrometheusメトリクス。
// グローバルレジストリを使わず、インスタンスごとに独立したレジストリを持つ。
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	authFailures   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	logins         *prometheus.CounterVec
}

// NewMetrics は新しいMetricsを生成し、コレクタを登録する。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_http_requests_total", Help: "HTTP requests by route, method and status code."},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_auth_failures_total", Help: "Rejected bearer tokens by internal reason."},
			[]string{"reason"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_upstream_errors_total", Help: "Failed forwards to backends by route and kind."},
			[]string{"route", "kind"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_logins_total", Help: "Login attempts by result."},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.authFailures,
		m.upstreamErrors,
		m.logins,
	)
	return m
}

// Handler は /metrics 用のハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry は内部のレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware はリクエスト数とレイテンシを記録するGinミドルウェアを返す。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.GetString(middleware.ContextKeyRoute)
		if route == "" {
			route = unmatchedRoute
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// AuthFailure はトークン検証の失敗を記録する。
func (m *Metrics) AuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// UpstreamError はバックエンドへの転送失敗を記録する。
func (m *Metrics) UpstreamError(route, kind string) {
	m.upstreamErrors.WithLabelValues(route, kind).Inc()
}

// Login はログイン試行の結果を記録する。
func (m *Metrics) Login(result string) {
	m.logins.WithLabelValues(result).Inc()
}
