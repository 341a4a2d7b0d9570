package webfile

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultUserAgent is sent with every request unless the caller supplies
// its own User-Agent header.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Client wraps an http.Client with default headers, a per-request timeout
// and a retry policy. The zero value is not usable; use NewClient.
type Client struct {
	// HTTPClient is the underlying client used for all requests.
	HTTPClient *http.Client

	// Headers are attached to every request. Existing request headers are
	// not overwritten.
	Headers http.Header

	// Timeout bounds connection establishment, waiting for response
	// headers, and each individual body read. It does not bound a whole
	// download. Change it through SetTimeout.
	Timeout time.Duration

	// Retry is applied around individual network operations.
	Retry RetryPolicy
}

// NewClient returns a Client with browser-like defaults and the default
// retry policy.
func NewClient() *Client {
	c := &Client{
		Headers: http.Header{"User-Agent": []string{DefaultUserAgent}},
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryPolicy,
	}
	c.HTTPClient = &http.Client{Transport: newTransport(c.Timeout)}
	return c
}

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// SetTimeout changes the per-request timeout. The transport is rebuilt so
// the new value bounds connection establishment and the wait for response
// headers; body reads are bounded per read, see timeoutBody.
func (c *Client) SetTimeout(d time.Duration) {
	c.Timeout = d
	c.HTTPClient.Transport = newTransport(d)
}

// DefaultClient is used by constructors when no client option is given.
var DefaultClient = NewClient()

// do sends req with the default headers attached, classifying transport
// failures and non-success statuses. A nil error means a 2xx response with
// a body the caller must close.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}

	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, transportError(err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, statusError(resp)
	}
	resp.Body = &timeoutBody{body: resp.Body, cancel: cancel, timeout: c.Timeout}
	return resp, nil
}

// timeoutBody bounds each read of a response body: a read that makes no
// progress within the timeout cancels the request and reports ErrTimeout.
// A whole-body deadline would break long downloads, so the clock restarts
// on every read.
type timeoutBody struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	timeout time.Duration
	expired atomic.Bool
}

func (b *timeoutBody) Read(p []byte) (int, error) {
	if b.timeout <= 0 {
		return b.body.Read(p)
	}
	timer := time.AfterFunc(b.timeout, func() {
		b.expired.Store(true)
		b.cancel()
	})
	n, err := b.body.Read(p)
	timer.Stop()
	if err != nil && b.expired.Load() {
		return n, fmt.Errorf("%w: no data received for %v", ErrTimeout, b.timeout)
	}
	return n, err
}

func (b *timeoutBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

// get issues a GET request, attaching a "bytes=offset-" range directive
// when offset is non-zero. The server should answer 206 Partial Content
// for ranged requests; a 200 means it ignored the range.
func (c *Client) get(url string, offset int64) (*http.Response, error) {
	var resp *http.Response
	err := c.Retry.Do(func() error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClient, err)
		}
		if offset != 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
		resp, err = c.do(req)
		return err
	})
	return resp, err
}

// head issues a HEAD request.
func (c *Client) head(url string) (*http.Response, error) {
	var resp *http.Response
	err := c.Retry.Do(func() error {
		req, err := http.NewRequest(http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClient, err)
		}
		resp, err = c.do(req)
		return err
	})
	return resp, err
}

// fetch retrieves a whole resource into memory. Used for playlists, which
// are small.
func (c *Client) fetch(url string) ([]byte, error) {
	resp, err := c.get(url, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	return data, nil
}
