package chromedp_crawler

import (
	"math/rand"
	"sync"

	"github.com/chromedp/cdproto/network"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8,de;q=0.5",
}

// Rotator hands out proxies in round-robin order and user agents at random.
type Rotator struct {
	proxies    []string
	userAgents []string

	mu         sync.Mutex
	proxyIndex int
}

// NewRotator falls back to a built-in user agent list when none are given.
func NewRotator(userAgents, proxies []string) *Rotator {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	return &Rotator{
		proxies:    append([]string(nil), proxies...),
		userAgents: append([]string(nil), userAgents...),
	}
}

// Proxy returns the next proxy, or "" for a direct connection.
func (r *Rotator) Proxy() string {
	if len(r.proxies) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	proxy := r.proxies[r.proxyIndex]
	r.proxyIndex = (r.proxyIndex + 1) % len(r.proxies)
	return proxy
}

func (r *Rotator) UserAgent() string {
	return r.userAgents[rand.Intn(len(r.userAgents))]
}

// Headers returns browser-like request headers for one navigation.
func (r *Rotator) Headers() network.Headers {
	return network.Headers{
		"Accept-Language":           acceptLanguages[rand.Intn(len(acceptLanguages))],
		"Upgrade-Insecure-Requests": "1",
		"DNT":                       "1",
	}
}
