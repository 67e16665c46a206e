package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds each client. Zero values disable the corresponding limit.
type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxLivePerClient      int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	mu sync.Mutex

	bucket *rate.Limiter

	reqSem  chan struct{}
	liveSem chan struct{}

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*clientLimiter),
	}
}

// KeyFromAPIKey buckets an API key without keeping the raw key in memory.
func KeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// KeyFromIP buckets a client address.
func KeyFromIP(ip string) string {
	return "ip_" + ip
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest admits one REST request. A nil Limiter admits everything.
func (l *Limiter) AcquireRequest(client string, now time.Time) Decision {
	if l == nil {
		return allow()
	}
	cl := l.getOrCreate(client, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := cl.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	if l.cfg.MaxConcurrentRequests > 0 {
		return acquire(cl.reqSem)
	}
	return allow()
}

// AcquireLive admits one live connection. The permit is held for the connection's
// lifetime.
func (l *Limiter) AcquireLive(client string, now time.Time) Decision {
	if l == nil {
		return allow()
	}
	cl := l.getOrCreate(client, now)
	if l.cfg.MaxLivePerClient > 0 {
		return acquire(cl.liveSem)
	}
	return allow()
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func allow() Decision {
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func acquire(sem chan struct{}) Decision {
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(client string, now time.Time) *clientLimiter {
	if client == "" {
		client = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// Still full: evict one arbitrary idle-looking entry to stay bounded.
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.reqSem) == 0 && len(v.liveSem) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}

	cl, ok := l.m[client]
	if !ok {
		cl = &clientLimiter{
			reqSem:  make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
			liveSem: make(chan struct{}, max(1, l.cfg.MaxLivePerClient)),
		}
		l.m[client] = cl
	}
	cl.lastSeen = now
	return cl
}

// gcLocked drops expired entries that hold no permits.
func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.reqSem) == 0 && len(v.liveSem) == 0 {
			delete(l.m, k)
		}
	}
}

// allowToken takes one request token at now. When none is available it reports the
// whole seconds until one is.
func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	if cl.bucket == nil {
		cl.bucket = rate.NewLimiter(rate.Limit(rps), burst)
	}
	bucket := cl.bucket
	cl.mu.Unlock()

	r := bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, max(1, int(math.Ceil(delay.Seconds())))
	}
	return true, 0
}
