package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxDownloadBytes = 25 << 20

var (
	// ErrTooLarge is returned when a download exceeds the configured size limit
	ErrTooLarge = errors.New("download exceeds size limit")
	// ErrForeignBucket is returned for s3 locators outside the configured bucket
	ErrForeignBucket = errors.New("s3 locator outside the configured bucket")
)

// Fetcher resolves attachment locators to their bytes. Supported forms are
// http(s) URLs, storage://<key> for the configured backend and
// s3://<bucket>/<key> when the backend is S3 and the bucket is its own.
type Fetcher struct {
	store      Storage
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for http(s) locators
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithFetchTimeout bounds each Fetch call
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithMaxBytes caps how much of a single attachment is read
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

// NewFetcher creates a Fetcher. store may be nil, in which case only http(s)
// locators resolve.
func NewFetcher(store Storage, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:      store,
		httpClient: http.DefaultClient,
		timeout:    60 * time.Second,
		maxBytes:   defaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the object a locator points to
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	locator = strings.TrimSpace(locator)
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return f.fetchHTTP(ctx, locator)
	case strings.HasPrefix(locator, LocatorScheme):
		if f.store == nil {
			return nil, errors.New("no storage backend configured")
		}
		rc, err := f.store.Download(ctx, strings.TrimPrefix(locator, LocatorScheme))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return f.readLimited(rc)
	case strings.HasPrefix(locator, "s3://"):
		s3store, ok := f.store.(*S3Storage)
		if !ok {
			return nil, fmt.Errorf("s3 locator requires the s3 storage backend: %s", locator)
		}
		bucket, key, found := strings.Cut(strings.TrimPrefix(locator, "s3://"), "/")
		if !found || bucket == "" || key == "" {
			return nil, fmt.Errorf("malformed s3 locator: %s", locator)
		}
		if bucket != s3store.Bucket() {
			return nil, fmt.Errorf("%w: %s", ErrForeignBucket, bucket)
		}
		rc, err := s3store.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return f.readLimited(rc)
	default:
		return nil, fmt.Errorf("unsupported locator: %s", locator)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s for url: %s", resp.Status, url)
	}

	return f.readLimited(resp.Body)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}
