// Package directory is a client for the account/domain directory service
// which owns per domain footer HTML. The milter server asks it once per
// message, so answers are cached for a short TTL.
package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTTL is how long footer answers are cached
const DefaultTTL = 5 * time.Minute

// Opts used to configure how we dial the directory service
type Opts struct {
	// URL is directory API root, like https://admin.example.org/api
	URL string
	// Token is bearer token, can be empty for unauthenticated deployments
	Token string
	// HTTPClient allows to override transport, usable for tests
	HTTPClient *http.Client
	// TTL overrides DefaultTTL when positive
	TTL time.Duration
}

// response is directory answer for footer requests
type response struct {
	FooterHTML string `json:"footer_html"`
}

type entry struct {
	footer    string
	fetchedAt time.Time
}

// Client asks directory service for domain wide footers
type Client struct {
	opts Opts

	mu    sync.Mutex
	cache map[string]entry
}

// New makes directory client
func New(opts Opts) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Client{
		opts:  opts,
		cache: make(map[string]entry),
	}
}

// FooterFor returns footer HTML configured for sender domain, empty string
// when there is none. Fresh cached answers are served without dialing.
func (c *Client) FooterFor(ctx context.Context, domain string) (footer string, err error) {
	if domain == "" {
		return "", nil
	}
	c.mu.Lock()
	cached, found := c.cache[domain]
	c.mu.Unlock()
	if found && time.Since(cached.fetchedAt) < c.opts.TTL {
		return cached.footer, nil
	}
	footer, err = c.fetch(ctx, domain)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.cache[domain] = entry{footer: footer, fetchedAt: time.Now()}
	c.mu.Unlock()
	return footer, nil
}

func (c *Client) fetch(ctx context.Context, domain string) (string, error) {
	url := fmt.Sprintf("%s/domains/%s/footer", c.opts.URL, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%s : while making request to %s", err, url)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	res, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s : while dialing directory at %s", err, url)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return "", fmt.Errorf("%s : while reading directory response from %s", err, url)
		}
		var parsed response
		err = json.Unmarshal(raw, &parsed)
		if err != nil {
			return "", fmt.Errorf("%s : while decoding directory response from %s", err, url)
		}
		return parsed.FooterHTML, nil
	case http.StatusNotFound:
		// domain without footer configured, perfectly normal
		return "", nil
	default:
		return "", fmt.Errorf("directory at %s answered with unexpected status %s", url, res.Status)
	}
}
