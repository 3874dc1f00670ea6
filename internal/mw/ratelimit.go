package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// bucket 是单个 key 的令牌桶及其最近一次使用时间。
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter 按 key 分配令牌桶，闲置超过 idle 的桶由后台 goroutine 回收。
type KeyedLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

// NewKeyedLimiter 创建限速器并启动回收 goroutine，停服时调用 Stop。
func NewKeyedLimiter(limit rate.Limit, burst int, idle time.Duration) *KeyedLimiter {
	kl := &KeyedLimiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go kl.evictLoop(30 * time.Second)
	return kl
}

// Allow 从 key 对应的桶中取一个令牌。
func (kl *KeyedLimiter) Allow(key string) bool {
	now := time.Now()
	kl.mu.Lock()
	b := kl.buckets[key]
	if b == nil {
		b = &bucket{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.buckets[key] = b
	}
	b.lastSeen = now
	kl.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (kl *KeyedLimiter) evictLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-kl.done:
			return
		case now := <-t.C:
			kl.evictIdle(now)
		}
	}
}

// evictIdle 删除 now 之前闲置超过 idle 的桶。
func (kl *KeyedLimiter) evictIdle(now time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for key, b := range kl.buckets {
		if now.Sub(b.lastSeen) > kl.idle {
			delete(kl.buckets, key)
		}
	}
}

func (kl *KeyedLimiter) tracked() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.buckets)
}

// Stop 结束回收 goroutine，可重复调用。
func (kl *KeyedLimiter) Stop() {
	kl.stopOnce.Do(func() { close(kl.done) })
}

// Middleware 以 客户端 IP + 路由模板 为 key 限速，超限返回 429。
func (kl *KeyedLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !kl.Allow(remoteHost(c.Request.RemoteAddr) + " " + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
