package remote

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

const (
	// DefaultUserAgent is sent with every upstream request.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.45 Safari/537.36"
	// DefaultReferer is sent with every upstream request. Some hosts serve release assets faster with it.
	DefaultReferer = "https://github.com/"
	// DefaultTimeout bounds each upstream request.
	DefaultTimeout = 60 * time.Second
)

// HTTPReader reads byte ranges of a remote resource using HEAD and ranged GET requests.
type HTTPReader struct {
	url      string
	proxyURL string
	client   *http.Client
	headers  http.Header
	timeout  time.Duration

	mu        sync.Mutex
	length    uint64
	hasLength bool
}

// Option configures an HTTPReader.
type Option func(*HTTPReader)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(r *HTTPReader) {
		r.client = client
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(r *HTTPReader) {
		r.headers.Set(key, value)
	}
}

// WithProxyURL prefixes every request URL with the given proxy URL.
func WithProxyURL(proxyURL string) Option {
	return func(r *HTTPReader) {
		r.proxyURL = proxyURL
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *HTTPReader) {
		r.timeout = timeout
	}
}

// NewHTTPReader returns a reader for the given URL. No request is made until Length or Read is called.
func NewHTTPReader(url string, opts ...Option) *HTTPReader {
	r := &HTTPReader{
		url:     url,
		client:  http.DefaultClient,
		headers: make(http.Header),
		timeout: DefaultTimeout,
	}
	r.headers.Set("User-Agent", DefaultUserAgent)
	r.headers.Set("Referer", DefaultReferer)
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	return r
}

// URL returns the archive URL, without the proxy prefix.
func (r *HTTPReader) URL() string {
	return r.url
}

// Length probes the resource with a HEAD request and memoizes its Content-Length.
func (r *HTTPReader) Length(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasLength {
		return r.length, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := r.newRequest(ctx, http.MethodHead)
	if err != nil {
		return 0, &datatypes.TransportError{URL: r.url, Method: http.MethodHead, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		// net/http rejects a malformed Content-Length before returning the response.
		if strings.Contains(err.Error(), "bad Content-Length") {
			return 0, &datatypes.ProtocolError{URL: r.url, Reason: "invalid content-length"}
		}
		return 0, &datatypes.TransportError{URL: r.url, Method: http.MethodHead, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return 0, &datatypes.TransportError{
			URL:        r.url,
			Method:     http.MethodHead,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
	if resp.ContentLength < 0 {
		return 0, &datatypes.ProtocolError{URL: r.url, Reason: "missing content-length"}
	}

	r.length = uint64(resp.ContentLength)
	r.hasLength = true
	return r.length, nil
}

// Read fetches the inclusive byte range [offset, offset+size-1].
func (r *HTTPReader) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if size > math.MaxInt64 || offset > math.MaxUint64-size {
		return nil, &datatypes.TransportError{
			URL:    r.url,
			Method: http.MethodGet,
			Offset: offset,
			Size:   size,
			Err:    eris.New("range out of bounds"),
		}
	}
	transportErr := func(resp *http.Response, err error) error {
		te := &datatypes.TransportError{
			URL:    r.url,
			Method: http.MethodGet,
			Offset: offset,
			Size:   size,
			Err:    err,
		}
		if resp != nil {
			te.StatusCode = resp.StatusCode
			te.Status = resp.Status
		}
		return te
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := r.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, transportErr(nil, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, transportErr(nil, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// ok
	case resp.StatusCode == http.StatusOK:
		return nil, transportErr(resp, eris.New("range requests not supported"))
	case !isSuccess(resp.StatusCode):
		return nil, transportErr(resp, nil)
	}

	if resp.ContentLength >= 0 && uint64(resp.ContentLength) != size {
		return nil, transportErr(resp, eris.Errorf("expected %d bytes, server sent %d", size, resp.ContentLength))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(size)))
	if err != nil {
		return nil, transportErr(resp, err)
	}
	if uint64(len(data)) != size {
		return nil, transportErr(resp, io.ErrUnexpectedEOF)
	}
	return data, nil
}

func (r *HTTPReader) newRequest(ctx context.Context, method string) (*http.Request, error) {
	target := r.url
	if r.proxyURL != "" {
		target = strings.TrimSuffix(r.proxyURL, "/") + "/" + r.url
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range r.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Byte offsets refer to the stored representation.
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
