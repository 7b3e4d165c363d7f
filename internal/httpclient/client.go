// Package httpclient is the dependency-injected collaborator Design Note
// §9 describes: "{endpoints, schedule, withRetry}", shared across every
// Stream without a back-reference. It composes auth.Signer,
// ratelimit.Registry and retry.Invoker around a plain net/http.Client.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/usedatabrew/klaviyo-source/internal/auth"
	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/ratelimit"
	"github.com/usedatabrew/klaviyo-source/internal/retry"
)

// DefaultBaseURL is Klaviyo's production API root.
const DefaultBaseURL = "https://a.klaviyo.com/api"

// Client is the single HTTP collaborator shared by every stream.
type Client struct {
	http     *http.Client
	signer   auth.Signer
	limiters *ratelimit.Registry
	invoker  *retry.Invoker
	baseURL  string
}

// New builds a Client against DefaultBaseURL. invoker is the general
// (non-OAuth) retry profile; the OAuth refresh profile lives behind
// signer instead.
func New(signer auth.Signer, limiters *ratelimit.Registry, invoker *retry.Invoker) *Client {
	return NewWithBaseURL(DefaultBaseURL, signer, limiters, invoker)
}

// NewWithBaseURL is New with an overridable API root, for tests to point
// at an httptest.Server instead of Klaviyo's production API.
func NewWithBaseURL(baseURL string, signer auth.Signer, limiters *ratelimit.Registry, invoker *retry.Invoker) *Client {
	return &Client{
		http:     &http.Client{},
		signer:   signer,
		limiters: limiters,
		invoker:  invoker,
		baseURL:  baseURL,
	}
}

// Get issues a GET against path under the given endpoint key, composing
// Retrying Invoker through Rate Limiter per §4.3: "Each fetch is composed
// through Retrying Invoker and Rate Limiter."
func (c *Client) Get(ctx context.Context, key klaviyo.EndpointKey, path string, query map[string]string) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		reqURL += "?" + values.Encode()
	}
	return c.GetURL(ctx, key, reqURL)
}

// GetURL is Get for a caller that already holds a complete request URL,
// such as a pagination cursor link returned by a previous page: it is
// still rate-limited and retried under key exactly like Get, it just
// skips building the query string from scratch.
func (c *Client) GetURL(ctx context.Context, key klaviyo.EndpointKey, reqURL string) ([]byte, error) {
	var body []byte
	err := c.invoker.WithRetry(ctx, func(ctx context.Context) error {
		b, err := c.dispatch(ctx, key, reqURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// dispatch performs one HTTP round trip under the endpoint's rate limit,
// classifying the response into transient vs client-fault per §7.
func (c *Client) dispatch(ctx context.Context, key klaviyo.EndpointKey, url string) ([]byte, error) {
	return ratelimit.Schedule(ctx, c.limiters, key, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &cerrors.FatalError{Err: err}
		}
		if err := c.signer.Sign(ctx, req); err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &cerrors.TransientError{Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &cerrors.TransientError{Err: err}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == 400 || resp.StatusCode == 401 || resp.StatusCode == 403 || resp.StatusCode == 404:
			return nil, &cerrors.ClientFaultError{Status: resp.StatusCode, Err: fmt.Errorf("%s: %s", url, body)}
		default:
			return nil, &cerrors.TransientError{Err: fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, body)}
		}
	})
}
