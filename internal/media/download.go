package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/logging"
)

// DownloadDir is where missing media is fetched to, below the archive root
const DownloadDir = "tweet_media"

var (
	// ErrEmptyDownload is returned when the server sent no bytes
	ErrEmptyDownload = errors.New("downloaded file is empty")
	// ErrOffline is returned when downloads are requested without network access
	ErrOffline = errors.New("offline")
)

// errRetryableStatus marks server errors worth another attempt
var errRetryableStatus = errors.New("server error")

// DownloadResult tells whether a file was fetched, already present, or failed
type DownloadResult int

const (
	Downloaded DownloadResult = iota
	AlreadyPresent
	Failed
)

// Downloader fetches missing media files
type Downloader struct {
	client   *http.Client
	executor failsafe.Executor[int64]
	pause    time.Duration
	dryRun   bool
	logger   *zap.Logger
}

// NewDownloader returns a downloader making up to three attempts per file,
// each bounded by timeout.
func NewDownloader(timeout time.Duration, dryRun bool) *Downloader {
	retry := retrypolicy.NewBuilder[int64]().
		WithBackoff(250*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		HandleIf(func(_ int64, err error) bool {
			return err != nil && !errors.Is(err, ErrEmptyDownload) && !errors.Is(err, errClientStatus)
		}).
		Build()

	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		executor: failsafe.With[int64](retry),
		pause:    250 * time.Millisecond,
		dryRun:   dryRun,
		logger:   logging.WithComponent("download"),
	}
}

var errClientStatus = errors.New("client error")

// Download saves url to path. An existing non-empty file is left alone; a
// zero-byte result is removed and reported as ErrEmptyDownload.
func (d *Downloader) Download(ctx context.Context, url, path string) (DownloadResult, error) {
	if info, err := os.Stat(path); err == nil {
		if info.Size() > 0 {
			return AlreadyPresent, nil
		}
		if !d.dryRun {
			os.Remove(path)
		}
	}
	if d.dryRun {
		d.logger.Info("Would download", zap.String("url", url), zap.String("path", path))
		return Downloaded, nil
	}

	_, err := d.executor.WithContext(ctx).Get(func() (int64, error) {
		return d.fetch(ctx, url, path)
	})
	if err != nil {
		return Failed, err
	}
	return Downloaded, nil
}

func (d *Downloader) fetch(ctx context.Context, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s", errRetryableStatus, resp.Status)
	case resp.StatusCode >= 400:
		return 0, fmt.Errorf("%w: %s", errClientStatus, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil || n == 0 {
		os.Remove(path)
		if n == 0 && copyErr == nil && closeErr == nil {
			return 0, ErrEmptyDownload
		}
		return 0, multierr.Combine(copyErr, closeErr)
	}
	return n, nil
}

// DownloadAll fetches every missing basename -> url pair into
// root/tweet_media and returns how many files were fetched. Failures are
// accumulated and returned together.
func (d *Downloader) DownloadAll(ctx context.Context, root string, missing map[string]string) (int, error) {
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	fetched := 0
	for _, name := range names {
		url := missing[name]
		path := filepath.Join(root, DownloadDir, name)
		res, err := d.Download(ctx, url, path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("error downloading %s to %s: %w", url, path, err))
			continue
		}
		if res == Downloaded {
			fetched++
			d.logger.Debug("Downloaded", zap.String("url", url), zap.String("path", path))
			if d.pause > 0 {
				select {
				case <-ctx.Done():
					return fetched, multierr.Append(errs, ctx.Err())
				case <-time.After(d.pause):
				}
			}
		}
	}
	return fetched, errs
}
