package fetcher

import (
	"context"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

// AttemptFetcher performs one page GET.
type AttemptFetcher interface {
	FetchOnce(ctx context.Context, rawURL string) (crawler.Page, error)
}

// Pages implements crawler.PageFetcher on top of a single-attempt fetcher.
type Pages struct {
	once    AttemptFetcher
	retrier *Retrier
}

// NewPages wires a single-attempt fetcher to a retrier.
func NewPages(once AttemptFetcher, retrier *Retrier) *Pages {
	return &Pages{once: once, retrier: retrier}
}

// Fetch returns the page body or a *crawler.FetchError once retries are spent.
func (p *Pages) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	var page crawler.Page
	err := p.retrier.Do(ctx, rawURL, func(attemptCtx context.Context) (int64, error) {
		got, err := p.once.FetchOnce(attemptCtx, rawURL)
		if err != nil {
			return 0, err
		}
		page = got
		return int64(len(got.Body)), nil
	})
	if err != nil {
		return crawler.Page{}, err
	}
	return page, nil
}
