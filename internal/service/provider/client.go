package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modooboard/authcore/internal/apperrors"
	"github.com/modooboard/authcore/internal/logger"
	"github.com/modooboard/authcore/internal/models"
)

const defaultCallTimeout = 5 * time.Second

// Endpoints of one external identity provider.
// RevokeURL may be empty for providers without a revoke endpoint
type Endpoints struct {
	TokenURL    string
	RevokeURL   string
	UserInfoURL string
}

type Config struct {
	Name         models.ProviderType
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Endpoints    Endpoints

	// Bound on every provider call, a timeout counts as a failed call
	// If not set than default is used
	Timeout time.Duration
}

// TokenResponse as returned by the provider's token endpoint.
// RefreshToken may be empty on re-consent
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

// UserInfo normalized across providers: one exposes 'sub', the other 'id'
type UserInfo struct {
	ProviderUserID string
	Email          string
	Nickname       string
}

// Client talks to one provider's network endpoints.
// Every call degrades to a typed failure, never a panic or an uncaught fault
type Client struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{},
		logger: l,
	}
}

func (c *Client) Provider() models.ProviderType {
	return c.cfg.Name
}

// ExchangeCode trades an authorization code for the provider's token pair
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code", code)

	body, err := c.postForm(ctx, c.cfg.Endpoints.TokenURL, form)
	if err != nil {
		return TokenResponse{}, err
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenResponse{}, fmt.Errorf("failed to decode token response: %v: %w", err, apperrors.ErrProviderUnavailable)
	}
	return resp, nil
}

// RefreshAccessToken calls the token endpoint with grant_type=refresh_token.
// Any non-2xx response, transport error or timeout is a typed
// ErrProviderUnavailable outcome, callers treat it as "could not refresh"
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)

	body, err := c.postForm(ctx, c.cfg.Endpoints.TokenURL, form)
	if err != nil {
		return TokenResponse{}, err
	}

	var resp TokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenResponse{}, fmt.Errorf("failed to decode refresh response: %v: %w", err, apperrors.ErrProviderUnavailable)
	}
	if resp.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("refresh response carries no access token: %w", apperrors.ErrProviderUnavailable)
	}
	return resp, nil
}

// RevokeToken makes a single call to the provider's revoke endpoint.
// Failures are logged with the response for diagnosis and never thrown
// beyond the typed error
func (c *Client) RevokeToken(ctx context.Context, tokenValue string) error {
	if c.cfg.Endpoints.RevokeURL == "" {
		return fmt.Errorf("provider %s has no revoke endpoint: %w", c.cfg.Name, apperrors.ErrProviderUnavailable)
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("token", tokenValue)

	_, err := c.postForm(ctx, c.cfg.Endpoints.RevokeURL, form)
	return err
}

// SmartRevoke tries to revoke the provider session with whatever credentials
// are available, strictly in order, short-circuiting on first success:
//  1. the stored access token, the cheap path while it is still live
//  2. the refresh token directly, some providers accept that
//  3. a fresh access token minted from the refresh token, then revoked
//
// Returns false only if every applicable tier failed or no tokens were given
func (c *Client) SmartRevoke(ctx context.Context, accessToken string, refreshToken string) bool {
	if accessToken != "" {
		if err := c.RevokeToken(ctx, accessToken); err == nil {
			c.logger.Debug("Provider session revoked by access token", "provider", c.cfg.Name)
			return true
		}
		c.logger.Info("Revoke by access token failed, falling back", "provider", c.cfg.Name)
	}

	if refreshToken == "" {
		return false
	}

	if err := c.RevokeToken(ctx, refreshToken); err == nil {
		c.logger.Debug("Provider session revoked by refresh token", "provider", c.cfg.Name)
		return true
	}
	c.logger.Info("Revoke by refresh token failed, falling back", "provider", c.cfg.Name)

	fresh, err := c.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		c.logger.Warn("Could not mint access token for revoke", "provider", c.cfg.Name, "error", err)
		return false
	}

	if err := c.RevokeToken(ctx, fresh.AccessToken); err != nil {
		c.logger.Warn("Revoke by freshly minted access token failed", "provider", c.cfg.Name, "error", err)
		return false
	}

	c.logger.Debug("Provider session revoked by re-minted access token", "provider", c.cfg.Name)
	return true
}

// FetchUserInfo loads the provider's profile for the access token
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoints.UserInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("userinfo request failed: %v: %w", err, apperrors.ErrProviderUnavailable)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Userinfo call failed", "provider", c.cfg.Name, "status_code", resp.StatusCode, "body", string(body))
		return UserInfo{}, fmt.Errorf("userinfo returned status %d: %w", resp.StatusCode, apperrors.ErrProviderUnavailable)
	}

	var payload struct {
		Sub      string      `json:"sub"`
		ID       json.Number `json:"id"`
		Email    string      `json:"email"`
		Name     string      `json:"name"`
		Nickname string      `json:"nickname"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return UserInfo{}, fmt.Errorf("failed to decode userinfo: %v: %w", err, apperrors.ErrProviderUnavailable)
	}

	info := UserInfo{
		ProviderUserID: payload.Sub,
		Email:          payload.Email,
		Nickname:       payload.Nickname,
	}
	if info.ProviderUserID == "" {
		info.ProviderUserID = payload.ID.String()
	}
	if info.Nickname == "" {
		info.Nickname = payload.Name
	}
	return info, nil
}

// postForm sends a form-encoded POST with a bounded timeout.
// A timeout is treated identically to an HTTP error
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Provider call failed", "provider", c.cfg.Name, "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("provider call failed: %v: %w", err, apperrors.ErrProviderUnavailable)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Provider call rejected", "provider", c.cfg.Name, "endpoint", endpoint, "status_code", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("provider returned status %d: %w", resp.StatusCode, apperrors.ErrProviderUnavailable)
	}

	return body, nil
}
