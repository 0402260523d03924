// Package httpfetch is the browserless extraction strategy: a plain GET of
// the target followed by the same HTML parsing the browser strategies use.
package httpfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/user/listing-monitor/internal/adapter/htmlparse"
	"github.com/user/listing-monitor/internal/entity"
)

const maxBodyBytes = 10 << 20

// ErrBodyTooLarge rejects pages that would be parsed from a truncated body.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

type FetcherImpl struct {
	client    *http.Client
	parser    *htmlparse.Parser
	userAgent string
	maxBody   int64
}

// NewFetcher creates a fetcher. A nil client means http.DefaultClient; the
// worker bounds every call with its own timeout.
func NewFetcher(client *http.Client, parser *htmlparse.Parser, userAgent string) *FetcherImpl {
	if client == nil {
		client = http.DefaultClient
	}
	return &FetcherImpl{client: client, parser: parser, userAgent: userAgent, maxBody: maxBodyBytes}
}

func (f *FetcherImpl) Extract(ctx context.Context, target entity.Target) (*entity.Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		// A malformed URL is a configuration fault, not a vanished target.
		return nil, entity.Transient(target, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, entity.Transient(target, err)
	}
	defer resp.Body.Close()

	if err := htmlparse.StatusError(target, resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBody))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, entity.Transient(target, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.maxBody {
		return nil, entity.Transient(target, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody))
	}

	result, err := f.parser.Parse(bytes.NewReader(body), target)
	if err != nil {
		return nil, entity.Transient(target, err)
	}
	result.Strategy = entity.StrategyFallback
	return result, nil
}
