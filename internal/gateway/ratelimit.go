package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL はアクセスの無いクライアントのリミッターを破棄するまでの時間。
const limiterIdleTTL = 10 * time.Minute

// loginLimiter はクライアントごとにログイン試行回数を制限する。
// ゲートウェイで唯一の共有された可変状態であり、ミューテックスで保護する。
type loginLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

// clientLimiter は1クライアント分のリミッターと最終アクセス時刻。
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLoginLimiter は1分あたりperMinute回、バーストburst回を許可するリミッターを生成する。
// perMinuteが0の場合は制限しない (nilを返す)。
func newLoginLimiter(perMinute, burst int) *loginLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &loginLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow はクライアントの試行を許可するかどうかを返す。nilのリミッターは常に許可する。
func (l *loginLimiter) Allow(client string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	cl, ok := l.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// sweep は一定時間アクセスの無いクライアントを取り除く。呼び出し側でロックを保持すること。
func (l *loginLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	for k, cl := range l.clients {
		if now.Sub(cl.lastSeen) >= limiterIdleTTL {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}

// size は保持しているクライアント数を返す。
func (l *loginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
