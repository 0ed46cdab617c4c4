// Package collyfetcher performs single page fetch attempts using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

// DefaultTimeout bounds an attempt whose context carries no deadline.
const DefaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	Headers       http.Header
}

// Fetcher performs exactly one GET per call. Retrying is the caller's concern.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type attemptResult struct {
	page crawler.Page
	err  error
}

// New builds a Fetcher sharing one pooled transport across attempts.
func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg, transport: newHTTPTransport()}
}

// FetchOnce executes a single HTTP GET. A non-2xx response is reported as
// *crawler.StatusError.
func (f *Fetcher) FetchOnce(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Page{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	collector := f.buildCollector(ctx)
	done := make(chan attemptResult, 1)
	start := time.Now()

	go func() {
		var (
			page     crawler.Page
			fetchErr error
		)
		f.configureCollectorHooks(collector, start, &page, &fetchErr)
		visitErr := collector.Visit(rawURL)
		switch {
		case fetchErr != nil:
			done <- attemptResult{err: fetchErr}
		case visitErr != nil:
			done <- attemptResult{err: fmt.Errorf("colly visit failed: %w", visitErr)}
		default:
			done <- attemptResult{page: page}
		}
	}()

	select {
	case <-ctx.Done():
		return crawler.Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case res := <-done:
		return res.page, res.err
	}
}

// buildCollector creates a fresh collector per attempt. Clones would share one
// http.Client, so a per-attempt timeout could not be set without a data race.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}
	collector.SetRequestTimeout(f.attemptTimeout(ctx))
	return collector
}

func (f *Fetcher) attemptTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
		return time.Millisecond
	}
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return DefaultTimeout
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *crawler.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = crawler.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
			*fetchErr = &crawler.StatusError{URL: r.Request.URL.String(), Code: r.StatusCode}
			return
		}
		*fetchErr = fmt.Errorf("colly response failed: %w", err)
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
	}
}
