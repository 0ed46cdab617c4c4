// Package discovery locates year listings, document pages and artifact links
// inside proceedings HTML using CSS selectors.
package discovery

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

// Default selectors for the NeurIPS proceedings layout.
const (
	DefaultYearSelector     = "a[href^='/paper_files/paper/']"
	DefaultDocumentSelector = "a[href*='Abstract']"
	DefaultArtifactSelector = "a[href*='.pdf']"
)

// Selectors configures how links are recognized at each level.
type Selectors struct {
	Year     string
	Document string
	Artifact string
}

// Proceedings implements crawler.LinkDiscoverer.
type Proceedings struct {
	sel    Selectors
	logger *zap.Logger
}

// New builds a discoverer; empty selectors fall back to the defaults.
func New(sel Selectors, logger *zap.Logger) *Proceedings {
	if sel.Year == "" {
		sel.Year = DefaultYearSelector
	}
	if sel.Document == "" {
		sel.Document = DefaultDocumentSelector
	}
	if sel.Artifact == "" {
		sel.Artifact = DefaultArtifactSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proceedings{sel: sel, logger: logger}
}

// ListYears returns one link per distinct year listing on the root page. The
// year is the last path segment of the resolved link.
func (p *Proceedings) ListYears(root crawler.Page) []crawler.YearLink {
	var out []crawler.YearLink
	for _, link := range p.links(root, p.sel.Year) {
		year := crawler.LastPathSegment(link)
		if year == "" {
			continue
		}
		out = append(out, crawler.YearLink{Year: year, URL: link})
	}
	return out
}

// ListDocuments returns the distinct document page links of a year listing.
func (p *Proceedings) ListDocuments(listing crawler.Page) []string {
	return p.links(listing, p.sel.Document)
}

// FindArtifactLink returns the first artifact link on a document page.
func (p *Proceedings) FindArtifactLink(document crawler.Page) (string, bool) {
	links := p.links(document, p.sel.Artifact)
	if len(links) == 0 {
		return "", false
	}
	return links[0], true
}

// ExtractTitle returns the raw text of the page's <title>, or "" if absent.
func (p *Proceedings) ExtractTitle(document crawler.Page) string {
	doc, err := p.parse(document)
	if err != nil {
		return ""
	}
	return doc.Find("title").First().Text()
}

func (p *Proceedings) links(page crawler.Page, selector string) []string {
	doc, err := p.parse(page)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := crawler.ResolveURL(page.URL, href)
		if err != nil {
			p.logger.Debug("skipping unresolvable link",
				zap.String("page", page.URL),
				zap.String("href", href),
				zap.Error(err),
			)
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	})
	return out
}

func (p *Proceedings) parse(page crawler.Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		p.logger.Warn("parse html", zap.String("url", page.URL), zap.Error(err))
		return nil, err
	}
	return doc, nil
}
