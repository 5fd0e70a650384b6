package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/patfam/internal/model"
)

// Fetcher is the HTTP transport shared by the adapters
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
}

// NewFetcher creates a Fetcher from the HTTP configuration
func NewFetcher(cfg model.HTTPConfig) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)

	return newFetcher(&http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, cfg.UserAgent, cfg.MaxBodyBytes)
}

// NewFetcherWithClient wraps an existing client (oauth2, httptest)
func NewFetcherWithClient(client *http.Client, userAgent string, maxBytes int64) *Fetcher {
	return newFetcher(client, userAgent, maxBytes)
}

func newFetcher(client *http.Client, userAgent string, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	if client.CheckRedirect == nil {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		}
	}
	return &Fetcher{
		httpClient: client,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
	}
}

// HTTPClient returns the underlying client
func (f *Fetcher) HTTPClient() *http.Client {
	return f.httpClient
}

// UserAgent returns the configured user agent
func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

// WithClient returns a copy of the fetcher using another client
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	return newFetcher(client, f.userAgent, f.maxBytes)
}

// Page is a fetched body with its declared content type
type Page struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// Get retrieves rawURL and returns the body. Failures are *Error values
// attributed to source and op.
func (f *Fetcher) Get(ctx context.Context, source, op, rawURL, accept string) ([]byte, error) {
	page, err := f.Fetch(ctx, source, op, rawURL, accept)
	if err != nil {
		return nil, err
	}
	return page.Body, nil
}

// Fetch retrieves rawURL and returns the body with its metadata
func (f *Fetcher) Fetch(ctx context.Context, source, op, rawURL, accept string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewError(Permanent, source, op, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	if accept == "" {
		accept = "*/*"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,pt-BR;q=0.8")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, TransportError(source, op, fmt.Errorf("fetch %s after %v: %w", redactURL(rawURL), time.Since(start).Round(time.Millisecond), unwrapURLError(err)))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, StatusError(source, op, resp.StatusCode)
	}

	// Read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, TransportError(source, op, fmt.Errorf("read body: %w", err))
	}

	return &Page{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// GetJSON retrieves rawURL and decodes it into dest
func (f *Fetcher) GetJSON(ctx context.Context, source, op, rawURL string, dest interface{}) error {
	body, err := f.Get(ctx, source, op, rawURL, "application/json")
	if err != nil {
		return err
	}
	return DecodeJSON(source, op, body, dest)
}

// DecodeJSON decodes body into dest, reporting failures as Malformed
func DecodeJSON(source, op string, body []byte, dest interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return NewError(Malformed, source, op, errors.New("empty body"))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return NewError(Malformed, source, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// unwrapURLError strips the *url.Error wrapper, which repeats the full URL
// including credentials passed as query parameters
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// redactURL drops the query string so API keys never reach logs
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
