package chromedp_crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/adapter/htmlparse"
	"github.com/user/listing-monitor/internal/entity"
)

func TestExtractWaitsForFreeBrowser(t *testing.T) {
	c := NewChromedpExtractor(Options{MaxBrowsers: 1}, htmlparse.NewParser(htmlparse.Selectors{}), nil, zap.NewNop())
	defer c.Close()

	// Hold the only slot.
	held := <-c.slots
	defer func() { c.slots <- held }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Extract(ctx, entity.Target{Kind: entity.TargetPage, Page: 1, URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, entity.IsPermanent(err))
}

func TestReleaseReplacesUnhealthyBrowser(t *testing.T) {
	c := NewChromedpExtractor(Options{MaxBrowsers: 1}, htmlparse.NewParser(htmlparse.Selectors{}), nil, zap.NewNop())

	cancelled := false
	ctx, cancel := context.WithCancel(context.Background())
	b := <-c.slots
	b.ctx = ctx
	b.cancel = func() { cancelled = true; cancel() }
	c.live[b] = struct{}{}

	c.release(b, false)
	assert.True(t, cancelled)
	assert.Empty(t, c.live)

	next := <-c.slots
	assert.Nil(t, next.ctx, "slot must be reset for a fresh start")
}

func TestAcquireForgetsDeadBrowser(t *testing.T) {
	c := NewChromedpExtractor(Options{MaxBrowsers: 1}, htmlparse.NewParser(htmlparse.Selectors{}), nil, zap.NewNop())

	cancelled := false
	ctx, cancel := context.WithCancel(context.Background())
	dead := <-c.slots
	dead.ctx = ctx
	dead.cancel = func() { cancelled = true }
	c.live[dead] = struct{}{}
	cancel()
	c.slots <- dead

	// Keep the restart from launching Chrome.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	_, err := c.acquire(context.Background())
	assert.ErrorContains(t, err, "extractor closed")
	assert.True(t, cancelled, "dead browser resources are released")
	assert.NotContains(t, c.live, dead)

	next := <-c.slots
	assert.NotSame(t, dead, next)
	assert.Nil(t, next.ctx)
}

func TestCloseRejectsNewBrowsers(t *testing.T) {
	c := NewChromedpExtractor(Options{MaxBrowsers: 1}, htmlparse.NewParser(htmlparse.Selectors{}), nil, zap.NewNop())
	c.Close()

	_, err := c.Extract(context.Background(), entity.Target{Kind: entity.TargetPage, Page: 1, URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "extractor closed")
	assert.Len(t, c.slots, 1, "failed start returns the slot")
}

func TestNewChromedpExtractorDefaults(t *testing.T) {
	assert.NotNil(t, NewChromedpExtractor(Options{}, nil, NewRotator(nil, nil), zap.NewNop()).rotator)
	assert.Equal(t, "body", NewChromedpExtractor(Options{}, nil, nil, zap.NewNop()).opts.WaitSelector)
}
