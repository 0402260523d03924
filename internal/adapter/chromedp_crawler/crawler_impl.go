package chromedp_crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/adapter/htmlparse"
	"github.com/user/listing-monitor/internal/entity"
)

var errNoDocument = errors.New("no document response observed")

type Options struct {
	MaxBrowsers  int
	UserAgent    string
	WaitSelector string // defaults to body
}

// browser is one long-lived headless Chrome. Each extraction opens a tab in
// it and closes the tab afterwards.
type browser struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// ChromedpExtractor renders targets in a bounded pool of headless browsers
// and hands the resulting HTML to the parser. With a Rotator it acts as the
// stealth strategy: every browser gets its own proxy and every tab its own
// user agent and headers.
type ChromedpExtractor struct {
	opts    Options
	parser  *htmlparse.Parser
	rotator *Rotator
	logger  *zap.Logger

	slots chan *browser

	mu     sync.Mutex
	closed bool
	live   map[*browser]struct{}
}

// NewChromedpExtractor creates the extractor. Browsers start lazily on first use.
func NewChromedpExtractor(opts Options, parser *htmlparse.Parser, rotator *Rotator, logger *zap.Logger) *ChromedpExtractor {
	if opts.MaxBrowsers <= 0 {
		opts.MaxBrowsers = 1
	}
	if opts.WaitSelector == "" {
		opts.WaitSelector = "body"
	}
	name := "primary"
	if rotator != nil {
		name = "stealth"
	}
	c := &ChromedpExtractor{
		opts:    opts,
		parser:  parser,
		rotator: rotator,
		logger:  logger.Named("chromedp").With(zap.String("strategy", name)),
		slots:   make(chan *browser, opts.MaxBrowsers),
		live:    make(map[*browser]struct{}),
	}
	for i := 0; i < opts.MaxBrowsers; i++ {
		c.slots <- &browser{}
	}
	return c
}

// Extract navigates to the target, records the document status and parses
// the rendered HTML.
func (c *ChromedpExtractor) Extract(ctx context.Context, target entity.Target) (*entity.Extraction, error) {
	b, err := c.acquire(ctx)
	if err != nil {
		return nil, entity.Transient(target, err)
	}
	healthy := false
	defer func() { c.release(b, healthy) }()

	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	defer cancelTab()
	// The tab must also end when the caller gives up.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var status atomic.Int64
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			status.CompareAndSwap(0, e.Response.Status)
		}
	})

	var html string
	actions := []chromedp.Action{network.Enable()}
	if c.rotator != nil {
		actions = append(actions,
			emulation.SetUserAgentOverride(c.rotator.UserAgent()),
			network.SetExtraHTTPHeaders(c.rotator.Headers()),
		)
	}
	actions = append(actions,
		chromedp.Navigate(target.URL),
		chromedp.WaitReady(c.opts.WaitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	runErr := chromedp.Run(tabCtx, actions...)
	code := int(status.Load())
	if code != 0 {
		if err := htmlparse.StatusError(target, code); err != nil {
			healthy = b.ctx.Err() == nil
			return nil, err
		}
	}
	if runErr != nil {
		if ctx.Err() != nil {
			healthy = b.ctx.Err() == nil
			return nil, entity.Transient(target, ctx.Err())
		}
		c.logger.Warn("browser run failed", zap.String("target", target.String()), zap.Error(runErr))
		return nil, entity.Transient(target, runErr)
	}
	healthy = true
	if code == 0 {
		return nil, entity.Transient(target, errNoDocument)
	}

	result, err := c.parser.Parse(strings.NewReader(html), target)
	if err != nil {
		return nil, entity.Transient(target, err)
	}
	return result, nil
}

// Close shuts every browser down. Extractions in flight fail.
func (c *ChromedpExtractor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for b := range c.live {
		b.cancel()
	}
	c.live = map[*browser]struct{}{}
}

func (c *ChromedpExtractor) acquire(ctx context.Context) (*browser, error) {
	var b *browser
	select {
	case b = <-c.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.ctx != nil && b.ctx.Err() == nil {
		return b, nil
	}
	if b.ctx != nil {
		c.logger.Warn("browser died, restarting")
		b = c.retire(b)
	}
	if err := c.start(b); err != nil {
		c.slots <- &browser{}
		return nil, err
	}
	return b, nil
}

func (c *ChromedpExtractor) start(b *browser) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("extractor closed")
	}
	c.mu.Unlock()

	agent := c.opts.UserAgent
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.rotator != nil {
		agent = c.rotator.UserAgent()
		if proxy := c.rotator.Proxy(); proxy != "" {
			opts = append(opts, chromedp.ProxyServer(proxy))
		}
	}
	if agent != "" {
		opts = append(opts, chromedp.UserAgent(agent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("start browser: %w", err)
	}

	b.ctx = browserCtx
	b.cancel = func() {
		cancelBrowser()
		cancelAlloc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		b.cancel()
		return errors.New("extractor closed")
	}
	c.live[b] = struct{}{}
	c.logger.Debug("browser started")
	return nil
}

// release returns the slot. An unhealthy browser is shut down so the next
// acquire starts a fresh one, with a new proxy when rotating.
func (c *ChromedpExtractor) release(b *browser, healthy bool) {
	if !healthy && b.cancel != nil {
		b = c.retire(b)
	}
	c.slots <- b
}

// retire shuts b down, forgets it and returns an empty slot.
func (c *ChromedpExtractor) retire(b *browser) *browser {
	if b.cancel != nil {
		b.cancel()
	}
	c.mu.Lock()
	delete(c.live, b)
	c.mu.Unlock()
	return &browser{}
}
