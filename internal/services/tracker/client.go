package tracker

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jabook/bookcache/internal/config"
)

// Page is a fetched forum page with its decoded UTF-8 body.
type Page struct {
	Body        string
	ContentType string
}

// Client fetches pages from the tracker site. It keeps a list of mirror base
// URLs and rotates to the next mirror on connection failures and 5xx
// responses; individual fetches retry with exponential backoff.
type Client struct {
	httpClient *http.Client
	userAgent  string

	mu      sync.Mutex
	mirrors []string
	current int

	maxRetries uint64
	logger     *logrus.Logger
}

// NewClient creates a new tracker client from configuration
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tracker base URL is required")
	}

	mirrors := []string{NormalizeBaseURL(cfg.BaseURL)}
	for _, m := range cfg.MirrorURLs {
		mirrors = append(mirrors, NormalizeBaseURL(m))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	// Browser-like transport: keep-alives, TLS 1.2+, http2 where offered
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		IdleConnTimeout:   90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.RequestTimeout,
		},
		userAgent:  cfg.UserAgent,
		mirrors:    mirrors,
		maxRetries: 3,
		logger:     logger,
	}, nil
}

// BaseURL returns the base URL of the mirror currently in use
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirrors[c.current]
}

// rotateMirror switches to the next available mirror
func (c *Client) rotateMirror() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mirrors) <= 1 {
		return
	}
	c.current = (c.current + 1) % len(c.mirrors)
	c.logger.WithField("mirror", c.mirrors[c.current]).Warn("Rotated to next tracker mirror")
}

// FetchPage performs a GET against the current mirror, retrying with
// exponential backoff and rotating mirrors on retryable failures.
func (c *Client) FetchPage(ctx context.Context, path string) (*Page, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var page *Page
	operation := func() error {
		p, retryable, err := c.fetchOnce(ctx, path)
		if err != nil {
			if retryable {
				c.rotateMirror()
				return err
			}
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", path, err)
	}
	return page, nil
}

// fetchOnce performs a single attempt against the current mirror.
// The second return value reports whether the failure is retryable.
func (c *Client) fetchOnce(ctx context.Context, path string) (*Page, bool, error) {
	url := c.BaseURL() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failures are what mirrors are for
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
		return nil, resp.StatusCode >= 500, err
	}

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	contentType := resp.Header.Get("Content-Type")
	decoded, err := decodeBody(reader, contentType)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode body charset: %w", err)
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read body: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"path":       path,
		"status":     resp.StatusCode,
		"size_bytes": len(body),
	}).Debug("Fetched tracker page")

	return &Page{Body: string(body), ContentType: contentType}, false, nil
}

// decodeBody converts the response body to UTF-8. The tracker serves
// windows-1251; anything else goes through content-type/meta sniffing.
func decodeBody(r io.Reader, contentType string) (io.Reader, error) {
	if strings.Contains(strings.ToLower(contentType), "windows-1251") {
		return transform.NewReader(r, charmap.Windows1251.NewDecoder()), nil
	}
	return charset.NewReader(r, contentType)
}
