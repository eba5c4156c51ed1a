package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFetch is matched by every *FetchError via errors.Is.
var ErrFetch = errors.New("library fetch failed")

// maxBundleBytes caps a single downloaded bundle.
const maxBundleBytes = 16 * 1024 * 1024 // 16 MB

// FetchError reports a failed download or bootstrap of one bundle.
type FetchError struct {
	Name    string
	Version string
	URL     string
	Status  int // HTTP status, 0 when the request never completed
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("library: %s@%s: GET %s: status %d", e.Name, e.Version, e.URL, e.Status)
	}
	return fmt.Sprintf("library: %s@%s: %s: %v", e.Name, e.Version, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Fetcher downloads bundle source.
type Fetcher interface {
	// Fetch returns the body of url. Non-2xx responses MUST be errors.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned by HTTPFetcher for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a Fetcher using a dedicated http.Client with the
// given overall request timeout.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBundleBytes {
		return nil, fmt.Errorf("bundle exceeds %d bytes", maxBundleBytes)
	}
	return body, nil
}
