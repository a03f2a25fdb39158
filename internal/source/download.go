package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// DownloadToFile pulls url in full into a temporary file and returns a
// FileSource over it. Used when a remote endpoint doesn't support Range
// requests, or when http.allowDownloadFallback is set and the caller prefers
// to pay one sequential transfer over many small ranged round-trips.
func DownloadToFile(ctx context.Context, url string, maxBytes int64) (*FileSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build GET request: %w", err)
	}
	resp, err := rangeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: GET %s: unexpected status %s", url, resp.Status)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("source: GET %s: content length %d exceeds max_download_bytes %d", url, resp.ContentLength, maxBytes)
	}

	tmp, err := os.CreateTemp("", "modelshard-download-*.bin")
	if err != nil {
		return nil, fmt.Errorf("source: create temp file: %w", err)
	}
	defer tmp.Close()

	body := io.Reader(resp.Body)
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("source: download %s: %w", url, err)
	}
	if maxBytes > 0 && n > maxBytes {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("source: download %s: exceeded max_download_bytes %d", url, maxBytes)
	}

	fs, err := OpenFile(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	fs.tempPath = tmp.Name()
	return fs, nil
}
