// GitHub OAuth app client.
//
// The authorization-code exchange goes through golang.org/x/oauth2; the
// profile is then read from the REST /user endpoint with the issued token.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discussblog/backend/internal/config"
	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubUserURL = "https://api.github.com/user"

var ErrOAuthNotConfigured = errors.New("github oauth app not configured")

// GitHubProfile is the subset of GET /user this service reads.
type GitHubProfile struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Name      *string `json:"name"`
	AvatarURL string  `json:"avatar_url"`
}

type GitHubOAuth struct {
	oauth      *oauth2.Config
	userURL    string
	httpClient *http.Client
}

// GitHubOAuthOption overrides endpoints, mainly for tests.
type GitHubOAuthOption func(*GitHubOAuth)

func WithOAuthEndpoint(authURL, tokenURL string) GitHubOAuthOption {
	return func(g *GitHubOAuth) {
		g.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	}
}

func WithUserURL(userURL string) GitHubOAuthOption {
	return func(g *GitHubOAuth) {
		g.userURL = userURL
	}
}

func NewGitHubOAuth(cfg config.GitHubConfig, opts ...GitHubOAuthOption) *GitHubOAuth {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &GitHubOAuth{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       []string{"read:user", "public_repo", "write:discussion"},
		},
		userURL:    defaultGitHubUserURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitHubOAuth) IsConfigured() bool {
	return g.oauth.ClientID != "" && g.oauth.ClientSecret != ""
}

func (g *GitHubOAuth) AuthCodeURL(state string) (string, error) {
	if !g.IsConfigured() {
		return "", ErrOAuthNotConfigured
	}
	return g.oauth.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for an access token and the profile it belongs to.
func (g *GitHubOAuth) Exchange(ctx context.Context, code string) (*GitHubProfile, string, error) {
	if !g.IsConfigured() {
		return nil, "", ErrOAuthNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, "", errors.New("empty access token in response")
	}

	profile, err := g.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, "", err
	}
	return profile, token.AccessToken, nil
}

func (g *GitHubOAuth) fetchProfile(ctx context.Context, accessToken string) (*GitHubProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user fetch failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile GitHubProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &profile, nil
}
