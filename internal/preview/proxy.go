package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultUserAgent is sent when the caller supplies none.
const DefaultUserAgent = "AJ STUDIOZ Preview"

// maxPageSize caps how much of an upstream page is buffered.
const maxPageSize = 8 << 20

var ErrInvalidID = errors.New("invalid preview id")

// UpstreamStatusError reports a non-2xx response from the preview host.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("preview upstream returned status %d", e.StatusCode)
}

// Page is a fetched preview document.
type Page struct {
	Body      []byte
	FetchedAt time.Time
}

// ProxyOption configures the proxy.
type ProxyOption func(*Proxy)

// WithHTTPClient sets the client used for upstream fetches.
func WithHTTPClient(c *http.Client) ProxyOption {
	return func(p *Proxy) {
		p.client = c
	}
}

// WithCache sets the page cache size and lifetime. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) ProxyOption {
	return func(p *Proxy) {
		p.cacheSize = size
		p.cacheTTL = ttl
	}
}

// WithUserAgent sets the default User-Agent.
func WithUserAgent(ua string) ProxyOption {
	return func(p *Proxy) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// WithUpstream overrides how an id becomes an upstream URL.
func WithUpstream(fn func(id string) string) ProxyOption {
	return func(p *Proxy) {
		p.upstream = fn
	}
}

// Proxy fetches preview pages from the vendor preview host.
type Proxy struct {
	client    *http.Client
	upstream  func(id string) string
	userAgent string
	logger    *slog.Logger

	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, *Page]
}

// NewProxy creates a Proxy resolving ids through rw.
func NewProxy(rw *Rewriter, logger *slog.Logger, opts ...ProxyOption) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		client:    http.DefaultClient,
		upstream:  rw.UpstreamURL,
		userAgent: DefaultUserAgent,
		logger:    logger,
		cacheSize: 256,
		cacheTTL:  time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize > 0 {
		p.cache = expirable.NewLRU[string, *Page](p.cacheSize, nil, p.cacheTTL)
	}
	return p
}

// Fetch returns the page for id. userAgent is forwarded when non-empty.
// Only successful pages are cached.
func (p *Proxy) Fetch(ctx context.Context, id, userAgent string) (*Page, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	if p.cache != nil {
		if page, ok := p.cache.Get(id); ok {
			return page, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.upstream(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if userAgent == "" {
		userAgent = p.userAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}

	page := &Page{Body: body, FetchedAt: time.Now()}
	if p.cache != nil {
		p.cache.Add(id, page)
	}
	p.logger.Debug("preview fetched", slog.String("id", id), slog.Int("bytes", len(body)))
	return page, nil
}
