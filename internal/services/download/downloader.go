package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/httpclient"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"golang.org/x/time/rate"
)

const (
	downloadChunkSize = 64 * 1024

	// Transient failures (network errors, 5xx) get this many attempts
	// with linear backoff; 4xx and oversize are terminal immediately
	downloadAttempts = 3
)

// Downloader fetches candidate documents over HTTP into the blob store.
// Each host gets its own rate limiter so one slow university site cannot
// be hammered by the whole pool.
type Downloader struct {
	client      *http.Client
	blobs       interfaces.BlobStore
	cfg         *common.DownloadConfig
	logger      arbor.ILogger
	backoffBase time.Duration
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
}

// DownloadResult describes a finished fetch
type DownloadResult struct {
	StoredName string
	BlobKey    string
	Size       int64
}

// NewDownloader creates a downloader writing into blobs
func NewDownloader(blobs interfaces.BlobStore, cfg *common.DownloadConfig, logger arbor.ILogger) *Downloader {
	return &Downloader{
		client:      httpclient.NewDefaultHTTPClient(cfg.RequestTimeout),
		blobs:       blobs,
		cfg:         cfg,
		logger:      logger,
		backoffBase: time.Second,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the rate limiter for a host, creating it on first use
func (d *Downloader) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	limiter, ok := d.limiters[host]
	if !ok {
		r := d.cfg.PerHostRate
		if r <= 0 {
			r = 2
		}
		burst := d.cfg.PerHostBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(r), burst)
		d.limiters[host] = limiter
	}
	return limiter
}

// Fetch downloads the file's source URL into the blob store under the
// task-scoped key and returns the stored name. A HEAD probe runs first
// so oversized or unsupported responses are rejected before streaming;
// the size cap is enforced again mid-stream because universities often
// omit Content-Length. Network errors and 5xx responses are retried
// with linear backoff; 4xx and oversize fail the file immediately.
func (d *Downloader) Fetch(ctx context.Context, file *models.File) (*DownloadResult, error) {
	sourceURL, err := url.Parse(file.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %s: %w", file.SourceURL, err)
	}

	ext := models.DetectExtension(file.SourceURL)
	if ext != "" && !models.IsSupportedExtension(ext) {
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}

	limiter := d.limiterFor(sourceURL.Hostname())
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	contentType, contentDisposition, err := d.probe(ctx, file.SourceURL)
	if err != nil {
		// Some servers reject HEAD outright; the GET still decides
		d.logger.Debug().
			Err(err).
			Str("url", file.SourceURL).
			Msg("HEAD probe failed, proceeding with GET")
	}

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, retryable, err := d.fetchOnce(ctx, file, contentType, contentDisposition)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable || attempt == downloadAttempts {
			break
		}

		d.logger.Debug().
			Err(err).
			Str("url", file.SourceURL).
			Int("attempt", attempt).
			Msg("Transient download failure, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * d.backoffBase):
		}
	}
	return nil, lastErr
}

// fetchOnce runs a single GET attempt. The second return reports whether
// the failure is worth retrying.
func (d *Downloader) fetchOnce(ctx context.Context, file *models.File, contentType, contentDisposition string) (*DownloadResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.SourceURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, resp.StatusCode >= 500, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		contentType = ct
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		contentDisposition = cd
	}

	if resp.ContentLength > 0 && resp.ContentLength > d.cfg.MaxFileSize {
		return nil, false, fmt.Errorf("file size %d exceeds cap %d", resp.ContentLength, d.cfg.MaxFileSize)
	}

	storedName := pickFilename(file.SourceURL, d.cfg.FilenameOverride, contentDisposition, contentType)
	blobKey := fmt.Sprintf("task_%s/raw/%s", file.TaskID, storedName)

	reader := &cappedReader{r: resp.Body, remaining: d.cfg.MaxFileSize}
	size, err := d.blobs.Write(ctx, blobKey, reader)
	if err != nil {
		if reader.exceeded {
			return nil, false, fmt.Errorf("file exceeded size cap %d mid-stream", d.cfg.MaxFileSize)
		}
		// A torn body stream surfaces here; the next attempt rewrites the key
		return nil, true, fmt.Errorf("failed to store download: %w", err)
	}

	d.logger.Info().
		Str("url", file.SourceURL).
		Str("stored_name", storedName).
		Int64("bytes", size).
		Msg("File downloaded")

	return &DownloadResult{
		StoredName: storedName,
		BlobKey:    blobKey,
		Size:       size,
	}, false, nil
}

// probe issues a HEAD request and rejects oversized responses early
func (d *Downloader) probe(ctx context.Context, sourceURL string) (contentType, contentDisposition string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HEAD returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength > d.cfg.MaxFileSize {
		return "", "", fmt.Errorf("file size %d exceeds cap %d", resp.ContentLength, d.cfg.MaxFileSize)
	}

	return resp.Header.Get("Content-Type"), resp.Header.Get("Content-Disposition"), nil
}

// cappedReader streams in fixed chunks and fails once the cap is crossed
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// At the cap exactly; only fail if more bytes actually follow
		var probe [1]byte
		n, err := c.r.Read(probe[:])
		if n > 0 {
			c.exceeded = true
			return 0, fmt.Errorf("size cap exceeded")
		}
		return 0, err
	}
	limit := int64(len(p))
	if limit > downloadChunkSize {
		limit = downloadChunkSize
	}
	if limit > c.remaining {
		limit = c.remaining
	}
	n, err := c.r.Read(p[:limit])
	c.remaining -= int64(n)
	return n, err
}
