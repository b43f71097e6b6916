// Package github implements the remote project store on the GitHub REST API.
package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/p-blackswan/pagesmith/pkg/tokenstore"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com/"

// Client hands out authenticated go-github clients, either from a
// personal access token or from a GitHub App installation.
type Client struct {
	token          string
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	tokenStore     tokenstore.Store
	httpClient     *http.Client
	apiURL         *url.URL
	logger         zerolog.Logger

	mint singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL points the client at a GitHub Enterprise or test endpoint.
func WithAPIURL(raw string) Option {
	return func(c *Client) {
		if raw == "" {
			return
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := url.Parse(raw); err == nil {
			c.apiURL = u
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func newClient(logger zerolog.Logger, opts []Option) *Client {
	base, _ := url.Parse(DefaultAPIURL)
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     base,
		logger:     logger.With().Str("component", "github").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTokenClient creates a client authenticated with a personal access token.
func NewTokenClient(token string, logger zerolog.Logger, opts ...Option) *Client {
	c := newClient(logger, opts)
	c.token = token
	return c
}

// NewAppClient creates a GitHub App client from a PEM key on disk.
func NewAppClient(appID, installationID int64, privateKeyPath string, store tokenstore.Store, logger zerolog.Logger, opts ...Option) (*Client, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppClientFromKeyBytes(appID, installationID, keyData, store, logger, opts...)
}

// NewAppClientFromKeyBytes creates a GitHub App client from PEM key bytes.
func NewAppClientFromKeyBytes(appID, installationID int64, keyData []byte, store tokenstore.Store, logger zerolog.Logger, opts ...Option) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if store == nil {
		store = tokenstore.NewMemoryStore()
	}

	c := newClient(logger, opts)
	c.appID = appID
	c.installationID = installationID
	c.privateKey = key
	c.tokenStore = store
	return c, nil
}

// IsApp reports whether the client authenticates as a GitHub App installation.
func (c *Client) IsApp() bool { return c.privateKey != nil }

// generateJWT creates a JWT for GitHub App authentication.
func (c *Client) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", c.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// API returns a go-github client for the next call. App installation
// tokens are minted on demand and cached until shortly before expiry.
func (c *Client) API(ctx context.Context) (*gh.Client, error) {
	token := c.token
	if c.IsApp() {
		var err error
		token, err = c.getInstallationToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	client := gh.NewClient(&http.Client{
		Transport: &tokenTransport{token: token, base: c.transport()},
		Timeout:   c.httpClient.Timeout,
	})
	client.BaseURL = c.apiURL
	return client, nil
}

func (c *Client) transport() http.RoundTripper {
	if c.httpClient.Transport != nil {
		return c.httpClient.Transport
	}
	return http.DefaultTransport
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	if t.token != "" {
		req2.Header.Set("Authorization", "token "+t.token)
	}
	return t.base.RoundTrip(req2)
}
