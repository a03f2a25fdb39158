package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// resolver is shared process-wide: repeated range requests against the same
// HuggingFace Hub host shouldn't re-resolve DNS per request. Grounded on
// gpustack/gguf-parser-go's use of github.com/rs/dnscache for its own remote
// GGUF header fetches.
var resolver = &dnscache.Resolver{}

func init() {
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()
}

func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

var rangeClient = &http.Client{
	Transport: &http.Transport{
		DialContext:           dialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
	Timeout: 5 * time.Minute,
}

// HTTPSource is a TensorSource backed by an HTTP server that honors Range
// requests — the narrow remote-fetch collaborator named in spec.md §1.
type HTTPSource struct {
	url        string
	size       int64
	maxRetries int
}

// OpenHTTP issues a HEAD request to discover the content length, then
// returns a source that serves ReadRange via a ranged GET.
func OpenHTTP(ctx context.Context, url string) (*HTTPSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build HEAD request: %w", err)
	}
	resp, err := rangeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: HEAD %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("source: HEAD %s: server did not report Content-Length", url)
	}
	return &HTTPSource{url: url, size: resp.ContentLength, maxRetries: 3}, nil
}

func (s *HTTPSource) Size() int64 { return s.size }

// ReadRange issues a ranged GET, retrying transient failures up to
// maxRetries times. This is the supplemented retry/backoff behavior named
// in SPEC_FULL.md §3 — spec.md's §6 names read_range but not its networked
// implementation detail.
func (s *HTTPSource) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		buf, err := s.readRangeOnce(ctx, offset, length)
		if err == nil {
			return buf, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("source: read_range(%d,%d) on %s failed after %d attempts: %w", offset, length, s.url, s.maxRetries+1, lastErr)
}

func (s *HTTPSource) readRangeOnce(ctx context.Context, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := rangeClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.StatusCode == http.StatusOK && offset != 0 {
		return nil, fmt.Errorf("server ignored Range header (status %s)", resp.Status)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil {
		return nil, fmt.Errorf("short read of %d/%d bytes: %w", n, length, err)
	}
	return buf, nil
}

func (s *HTTPSource) Cleanup() error { return nil }
