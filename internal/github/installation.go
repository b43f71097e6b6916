package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// Installation tokens last one hour; refresh five minutes early.
const tokenTTL = 55 * time.Minute

// mintTimeout bounds a shared token request, which outlives any one caller.
const mintTimeout = 30 * time.Second

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) tokenKey() string {
	return fmt.Sprintf("github_installation_token/%d", c.installationID)
}

// getInstallationToken returns a cached or freshly generated installation
// token. Concurrent callers that miss the cache share one mint request, which
// is not cancelled when the caller that started it goes away.
func (c *Client) getInstallationToken(ctx context.Context) (string, error) {
	if tok, err := c.tokenStore.Get(ctx, c.tokenKey()); err == nil {
		c.logger.Debug().Msg("using cached installation token")
		return tok.Value, nil
	}

	ch := c.mint.DoChan(c.tokenKey(), func() (any, error) {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mintTimeout)
		defer cancel()
		if tok, err := c.tokenStore.Get(mctx, c.tokenKey()); err == nil {
			return tok.Value, nil
		}
		return c.mintInstallationToken(mctx)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug().Msg("joined in-flight installation token request")
	}
	return v.(string), nil
}

func (c *Client) mintInstallationToken(ctx context.Context) (string, error) {
	c.logger.Info().Int64("installation_id", c.installationID).Msg("generating new installation token")
	jwtToken, err := c.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	endpoint := c.apiURL.JoinPath("app", "installations", fmt.Sprint(c.installationID), "access_tokens")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("installation token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tokenResp installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	ttl := tokenTTL
	if !tokenResp.ExpiresAt.IsZero() {
		if until := time.Until(tokenResp.ExpiresAt) - 5*time.Minute; until > 0 && until < ttl {
			ttl = until
		}
	}
	if err := c.tokenStore.Set(ctx, c.tokenKey(), tokenResp.Token, ttl); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache installation token")
	}

	return tokenResp.Token, nil
}
