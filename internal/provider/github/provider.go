package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

const baseURL = "https://api.github.com"

// Provider registers repository webhooks through the GitHub REST API
type Provider struct {
	baseURL      string
	defaultToken string
	rateLimiter  *ratelimit.MultiLimiter
	log          *logger.Logger
}

// New creates a GitHub webhook provider. defaultToken is used when a task's
// trigger credentials carry no token of their own.
func New(defaultToken string, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Provider {
	return &Provider{
		baseURL:      baseURL,
		defaultToken: defaultToken,
		rateLimiter:  limiter,
		log:          log.WithComponent("github-provider"),
	}
}

// NewWithBaseURL creates a provider pointed at a non-default API host
func NewWithBaseURL(url, defaultToken string, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Provider {
	p := New(defaultToken, limiter, log)
	p.baseURL = strings.TrimSuffix(url, "/")
	return p
}

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret,omitempty"`
}

type createHookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

type hookResponse struct {
	ID int64 `json:"id"`
}

// Register creates a push/pull_request webhook on the repository named by
// sourceIdentifier (a https://github.com/owner/repo URL)
func (p *Provider) Register(ctx context.Context, sourceIdentifier, callbackURL, secret string, credentials models.JSON) (*provider.Registration, error) {
	repo, err := repoPath(sourceIdentifier)
	if err != nil {
		return nil, err
	}

	body := createHookRequest{
		Name:   "web",
		Active: true,
		Events: []string{"push", "pull_request"},
		Config: hookConfig{
			URL:         callbackURL,
			ContentType: "json",
			Secret:      secret,
		},
	}

	resp, err := p.do(ctx, credentials, http.MethodPost, fmt.Sprintf("/repos/%s/hooks", repo), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, p.apiError("create hook", repo, resp)
	}

	var hook hookResponse
	if err := json.NewDecoder(resp.Body).Decode(&hook); err != nil {
		return nil, fmt.Errorf("failed to decode hook response: %w", err)
	}

	p.log.Info().Str("repo", repo).Int64("hook_id", hook.ID).Msg("Registered repository webhook")
	return &provider.Registration{ExternalID: fmt.Sprintf("%d", hook.ID)}, nil
}

// Deregister deletes the webhook from the repository named by resourceID
func (p *Provider) Deregister(ctx context.Context, externalID, resourceID string, credentials models.JSON) error {
	repo, err := repoPath(resourceID)
	if err != nil {
		return err
	}

	resp, err := p.do(ctx, credentials, http.MethodDelete, fmt.Sprintf("/repos/%s/hooks/%s", repo, externalID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 404 means the hook is already gone; treat as success for idempotence
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return p.apiError("delete hook", repo, resp)
	}

	p.log.Info().Str("repo", repo).Str("hook_id", externalID).Msg("Deregistered repository webhook")
	return nil
}

// VerifyCredentials checks the token against the authenticated-user endpoint
func (p *Provider) VerifyCredentials(ctx context.Context, credentials models.JSON) (bool, error) {
	resp, err := p.do(ctx, credentials, http.MethodGet, "/user", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// do performs an authenticated API request
func (p *Provider) do(ctx context.Context, credentials models.JSON, method, path string, body interface{}) (*http.Response, error) {
	if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterGitHub); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	token := credentials.GetString("token")
	if token == "" {
		token = p.defaultToken
	}
	if token == "" {
		return nil, provider.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = provider.DefaultTimeout

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github API request failed: %w", err)
	}
	return resp, nil
}

func (p *Provider) apiError(op, repo string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	p.log.Warn().
		Str("op", op).
		Str("repo", repo).
		Int("status", resp.StatusCode).
		Str("body", string(data)).
		Msg("GitHub API error")
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return provider.ErrUnauthorized
	}
	return fmt.Errorf("github %s failed with status %d", op, resp.StatusCode)
}

// repoPath extracts owner/repo from a https://github.com/owner/repo URL
func repoPath(sourceIdentifier string) (string, error) {
	const prefix = "https://github.com/"
	if !strings.HasPrefix(sourceIdentifier, prefix) {
		return "", fmt.Errorf("not a github repository url: %s", sourceIdentifier)
	}
	repo := strings.Trim(strings.TrimPrefix(sourceIdentifier, prefix), "/")
	if strings.Count(repo, "/") != 1 {
		return "", fmt.Errorf("not an owner/repo path: %s", repo)
	}
	return repo, nil
}

var _ provider.Provider = (*Provider)(nil)
