package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/token"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// errorBodyLimit caps how much of a failed response is kept for the
// error message; a streaming endpoint may never end its body.
const errorBodyLimit = 4096

// StatusError is returned by Do for any response outside the 2xx range.
type StatusError struct {
	Code int
	URL  string
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invalid response code %d for request url %q: %s", e.Code, e.URL, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

type Client struct {
	HttpClient *http.Client

	auth      token.Provider
	userAgent string
}

type Option func(*Client)

// WithAuth sets the provider used for the Authorization header.
func WithAuth(p token.Provider) Option {
	return func(c *Client) {
		c.auth = p
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HttpClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a Client suitable for long lived streaming requests:
// the HTTP client has no overall timeout, so request lifetime is governed
// only by the context passed to Do.
func NewClient(opt ...Option) *Client {
	c := &Client{
		HttpClient: &http.Client{
			Timeout: time.Nanosecond * 0,
		},
		userAgent: "vumi-bridge-go",
	}
	for _, o := range opt {
		o(c)
	}

	return c
}

// NewClientWithCA creates a Client that trusts the PEM encoded CA bundle
// at caFile instead of the system roots.
func NewClientWithCA(caFile string, opt ...Option) (*Client, error) {
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	transport := &http.Transport{TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    certPool,
	}}

	opt = append([]Option{WithHTTPClient(&http.Client{
		Transport: transport,
		Timeout:   time.Nanosecond * 0,
	})}, opt...)

	return NewClient(opt...), nil
}

func (c *Client) DoRaw(req *http.Request) (*http.Response, error) {
	if c.auth != nil && req.Header.Get("Authorization") == "" {
		if auth := c.auth.Authorization(); len(auth) > 0 {
			req.Header.Set("Authorization", auth)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.HttpClient.Do(req)
}

// Do sends r and returns the response once its headers have arrived. The
// body is left open for the caller to consume. Responses outside the 2xx
// range are closed and turned into a *StatusError.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	reqURL, err := r.FullURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.method(), reqURL, r.Body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", string(JSONContentType))
	for name, values := range r.Header {
		req.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", string(r.ContentType))
	}

	resp, err := c.DoRaw(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errmsg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return resp, &StatusError{Code: resp.StatusCode, URL: reqURL, Body: errmsg}
	}

	return resp, nil
}
