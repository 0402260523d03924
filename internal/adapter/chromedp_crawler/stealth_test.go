package chromedp_crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotatorProxiesRoundRobin(t *testing.T) {
	r := NewRotator(nil, []string{"http://p1:8000", "http://p2:8000"})

	assert.Equal(t, "http://p1:8000", r.Proxy())
	assert.Equal(t, "http://p2:8000", r.Proxy())
	assert.Equal(t, "http://p1:8000", r.Proxy())
}

func TestRotatorWithoutProxies(t *testing.T) {
	r := NewRotator(nil, nil)
	assert.Empty(t, r.Proxy())
	assert.Contains(t, defaultUserAgents, r.UserAgent())
}

func TestRotatorUserAgents(t *testing.T) {
	r := NewRotator([]string{"ua-1"}, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "ua-1", r.UserAgent())
	}
	h := r.Headers()
	assert.Contains(t, acceptLanguages, h["Accept-Language"])
}
