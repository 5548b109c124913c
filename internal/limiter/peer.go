package limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Peers is a token bucket per client address.
type Peers struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// NewPeers creates a limiter allowing perSecond requests with the given burst per peer.
// A non-positive perSecond disables limiting.
func NewPeers(perSecond float64, burst int, ttl time.Duration) *Peers {
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	lim := rate.Limit(perSecond)
	if perSecond <= 0 {
		lim = rate.Inf
	}
	return &Peers{
		buckets: make(map[string]*bucket),
		limit:   lim,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow consumes a token for peer and returns the delay until the next one when denied.
func (p *Peers) Allow(peer string) (bool, time.Duration) {
	if p.limit == rate.Inf {
		return true, 0
	}
	if peer == "" {
		peer = "unknown"
	}
	key := HashIP(peer)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[key] = b
	}
	b.ts = now
	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	wait := time.Duration(math.Ceil(float64(time.Second) / float64(p.limit)))
	return false, wait
}

// Prune drops buckets idle for longer than the TTL and returns how many were removed.
func (p *Peers) Prune() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, b := range p.buckets {
		if now.Sub(b.ts) > p.ttl {
			delete(p.buckets, k)
			n++
		}
	}
	return n
}

// HashIP returns a stable digest for an address to avoid keeping raw IPs in memory.
func HashIP(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(h[:])
}
