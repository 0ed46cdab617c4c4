// Package downloader fetches binary artifacts into the local artifact store.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/fetcher"
	"github.com/JakeFAU/paper-harvester/internal/hash/sha256"
)

// Store persists artifact bytes atomically under a key.
type Store interface {
	Path(key string) (string, error)
	Exists(key string) (path string, size int64, ok bool, err error)
	Write(key string, r io.Reader) (path string, written int64, err error)
}

// Config controls request headers.
type Config struct {
	UserAgent string
}

// Downloader implements crawler.ArtifactDownloader over plain HTTP GETs.
type Downloader struct {
	cfg     Config
	client  *http.Client
	store   Store
	retrier *fetcher.Retrier
	logger  *zap.Logger
}

// New builds a Downloader. A nil client uses a client without its own timeout;
// each attempt is bounded by the retrier.
func New(cfg Config, client *http.Client, store Store, retrier *fetcher.Retrier, logger *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{cfg: cfg, client: client, store: store, retrier: retrier, logger: logger}
}

// Download stores the artifact at url under key. If a completed artifact is
// already present no request is made and the result is marked Skipped.
func (d *Downloader) Download(ctx context.Context, url string, key string) (crawler.DownloadResult, error) {
	path, size, ok, err := d.store.Exists(key)
	if err != nil {
		return crawler.DownloadResult{}, &crawler.DownloadError{URL: url, Path: path, Cause: err}
	}
	if ok {
		d.logger.Debug("artifact already present; skipping download",
			zap.String("url", url),
			zap.String("path", path),
		)
		sum, err := sha256.File(path)
		if err != nil {
			d.logger.Debug("could not hash existing artifact", zap.String("path", path), zap.Error(err))
		}
		return crawler.DownloadResult{Path: path, Bytes: size, SHA256: sum, Skipped: true}, nil
	}

	var result crawler.DownloadResult
	err = d.retrier.Do(ctx, url, func(attemptCtx context.Context) (int64, error) {
		res, err := d.attempt(attemptCtx, url, key)
		if err != nil {
			return res.Bytes, err
		}
		result = res
		return res.Bytes, nil
	})
	if err != nil {
		return crawler.DownloadResult{}, &crawler.DownloadError{URL: url, Path: path, Cause: err}
	}
	return result, nil
}

func (d *Downloader) attempt(ctx context.Context, url, key string) (crawler.DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return crawler.DownloadResult{}, fmt.Errorf("create request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return crawler.DownloadResult{}, fmt.Errorf("get artifact: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Debug("close artifact body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.DownloadResult{}, &crawler.StatusError{URL: url, Code: resp.StatusCode}
	}

	digest := sha256.NewDigest()
	path, n, err := d.store.Write(key, io.TeeReader(resp.Body, digest))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(err, ctxErr)
		}
		return crawler.DownloadResult{Bytes: n}, err
	}

	d.logger.Debug("artifact stored",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)),
	)
	return crawler.DownloadResult{
		Path:   path,
		Bytes:  n,
		SHA256: digest.Hex(),
	}, nil
}
