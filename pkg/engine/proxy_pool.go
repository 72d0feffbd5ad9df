package engine

import (
	"sync"
	"time"
)

// DefaultProxyBlockTTL is used when Block is called with a non-positive ttl.
const DefaultProxyBlockTTL = 60 * time.Second

// ProxyPool hands out proxies in strict round-robin order, skipping blocked ones.
// The proxy list is fixed at construction.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []string
	blocked map[string]time.Time
	cursor  int
	nowFn   func() time.Time
}

// NewProxyPool creates a pool over proxies. An empty list is valid.
func NewProxyPool(proxies []string) *ProxyPool {
	return NewProxyPoolWithClock(proxies, nil)
}

// NewProxyPoolWithClock creates a pool reading time from nowFn.
func NewProxyPoolWithClock(proxies []string, nowFn func() time.Time) *ProxyPool {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ProxyPool{
		proxies: append([]string(nil), proxies...),
		blocked: make(map[string]time.Time),
		nowFn:   nowFn,
	}
}

// Next returns the next unblocked proxy. It returns false when the pool is
// empty or every proxy is blocked.
func (p *ProxyPool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.proxies)
	if n == 0 {
		return "", false
	}

	now := p.nowFn()
	for i := 0; i < n; i++ {
		candidate := p.proxies[p.cursor]
		p.cursor = (p.cursor + 1) % n
		if !p.isBlockedLocked(candidate, now) {
			return candidate, true
		}
	}
	return "", false
}

// Block excludes proxy until now+ttl, replacing any existing block.
func (p *ProxyPool) Block(proxy string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultProxyBlockTTL
	}
	p.mu.Lock()
	p.blocked[proxy] = p.nowFn().Add(ttl)
	p.mu.Unlock()
}

// IsBlocked reports whether proxy is currently blocked, evicting an expired block.
func (p *ProxyPool) IsBlocked(proxy string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isBlockedLocked(proxy, p.nowFn())
}

func (p *ProxyPool) isBlockedLocked(proxy string, now time.Time) bool {
	until, ok := p.blocked[proxy]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(p.blocked, proxy)
		return false
	}
	return true
}

// Proxies returns a copy of the configured proxy list in rotation order.
func (p *ProxyPool) Proxies() []string {
	return append([]string(nil), p.proxies...)
}

func (p *ProxyPool) Len() int {
	return len(p.proxies)
}
