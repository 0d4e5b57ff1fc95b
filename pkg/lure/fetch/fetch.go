// Package fetch downloads remote files to local paths with a bounded timeout
// and a small number of retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/apperr"
)

// Options configures a Downloader.
type Options struct {
	Timeout       time.Duration // per attempt
	MaxRetries    int
	MaxBytes      int64 // 0 means unlimited
	RetryInterval time.Duration
	Transport     http.RoundTripper // nil uses http.DefaultTransport
}

// Downloader fetches URLs into files.
type Downloader struct {
	client        *http.Client
	maxRetries    int
	maxBytes      int64
	retryInterval time.Duration
	logger        *zap.Logger
}

// New creates a Downloader.
func New(opts Options, logger *zap.Logger) *Downloader {
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	return &Downloader{
		client:        &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		maxRetries:    opts.MaxRetries,
		maxBytes:      opts.MaxBytes,
		retryInterval: opts.RetryInterval,
		logger:        logger,
	}
}

// Download writes the body of url to dest, creating parent directories.
// dest is replaced atomically, so a failed download never leaves a partial
// file behind. Any failure, including a 404, is returned as an apperr fetch
// error for the caller to log and skip.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperr.Fetch(err, "failed to create directory for %s", dest)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInterval
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := d.fetchOnce(ctx, url, dest)
		if err != nil && attempt <= d.maxRetries {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				d.logger.Debug("asset download failed, retrying",
					zap.String("url", url),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return apperr.Fetch(err, "download of %s failed", url)
	}
	return nil
}

func (d *Downloader) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if retryable(resp.StatusCode) {
			return err
		}
		return backoff.Permanent(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	body := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		return backoff.Permanent(fmt.Errorf("response exceeds %d bytes", d.maxBytes))
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
