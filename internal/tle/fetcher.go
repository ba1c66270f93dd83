package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxBodyBytes caps a single source response.
const maxBodyBytes = 50 << 20

// Fetcher retrieves raw element-set text from a primary source plus optional
// extra sources. A source is either an http(s) URL or a local file path.
type Fetcher struct {
	source     string
	extra      []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for source and any extra sources.
func NewFetcher(source string, logger *slog.Logger, extra ...string) *Fetcher {
	return &Fetcher{
		source: source,
		extra:  extra,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Source returns the primary source.
func (f *Fetcher) Source() string {
	return f.source
}

// Fetch reads the primary source and appends every extra source that can be
// read. A failing extra source is logged and skipped; a failing primary
// source is an error.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	data, err := f.fetchOne(ctx, f.source)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(data)
	for _, src := range f.extra {
		extra, err := f.fetchOne(ctx, src)
		if err != nil {
			f.logger.Warn("extra element set source failed", "source", src, "error", err)
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading element set file: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching element sets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, src)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", src, maxBodyBytes)
	}
	return body, nil
}

// Load fetches, parses and wraps the element sets into a Dataset. When the
// fetch fails and a cache is given, the newest cached snapshot is used.
// Successful fetches are written back to the cache.
func Load(ctx context.Context, f *Fetcher, cache *Cache, logger *slog.Logger) (*Dataset, error) {
	source := f.Source()
	loadedAt := time.Now()

	data, err := f.Fetch(ctx)
	if err != nil {
		if cache == nil {
			return nil, err
		}
		logger.Warn("element set fetch failed, trying cache", "source", source, "error", err)
		var cerr error
		data, loadedAt, cerr = cache.LoadLatest()
		if cerr != nil {
			return nil, fmt.Errorf("%w (cache: %v)", err, cerr)
		}
		source = "cache"
	} else if cache != nil {
		if err := cache.Write(data, loadedAt); err != nil {
			logger.Warn("writing element set cache failed", "error", err)
		}
	}

	sets, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no element sets in %s", source)
	}

	logger.Info("element sets loaded", "source", source, "count", len(sets))
	return NewDataset(source, loadedAt, sets), nil
}
