// Package pdftext extracts a bounded plain-text excerpt from PDF artifacts.
package pdftext

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

// document is the subset of a parsed PDF the extractor reads.
type document interface {
	NumPage() int
	PageText(i int) (string, error)
}

type opener func(path string) (document, io.Closer, error)

// Extractor implements crawler.TextExtractor.
type Extractor struct {
	open   opener
	logger *zap.Logger
}

// New builds an Extractor backed by github.com/ledongthuc/pdf.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{open: openPDF, logger: logger}
}

// Extract returns the first crawler.MaxExcerptRunes runes of the artifact's
// text, trimmed. Unreadable or textless files yield crawler.ExcerptNotFound;
// the failure is logged as an *crawler.ExtractionError and never returned.
func (e *Extractor) Extract(path string) string {
	text, err := e.readText(path)
	if err != nil {
		e.logger.Warn("excerpt extraction failed",
			zap.String("path", path),
			zap.Error(&crawler.ExtractionError{Path: path, Cause: err}),
		)
		return crawler.ExcerptNotFound
	}
	return crawler.BoundExcerpt(text)
}

func (e *Extractor) readText(path string) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	doc, closer, err := e.open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			e.logger.Debug("close pdf", zap.String("path", path), zap.Error(closeErr))
		}
	}()

	var sb strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		pageText, pageErr := doc.PageText(i)
		if pageErr != nil {
			e.logger.Debug("skipping unreadable page",
				zap.String("path", path),
				zap.Int("page", i),
				zap.Error(pageErr),
			)
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
		if utf8.RuneCountInString(sb.String()) >= crawler.MaxExcerptRunes {
			break
		}
	}
	return sb.String(), nil
}

type pdfDocument struct {
	reader *pdf.Reader
}

func (d pdfDocument) NumPage() int {
	return d.reader.NumPage()
}

func (d pdfDocument) PageText(i int) (string, error) {
	page := d.reader.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func openPDF(path string) (document, io.Closer, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return pdfDocument{reader: r}, f, nil
}
