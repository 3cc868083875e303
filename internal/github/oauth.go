package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/log"
	"github.com/wakelak/wakelak/internal/models"
)

// ExchangeCode trades an OAuth authorization code for an access token and
// resolves the token's GitHub login. The token is stored server-side by the
// caller; it never reaches the browser.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (token, username string, err error) {
	if clientID == "" || clientSecret == "" {
		return "", "", apperr.New(apperr.CodeCredentialMissing, "GitHub OAuth is not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
	})
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthBaseURL+"/login/oauth/access_token", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Logger.Error("oauth exchange failed", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", "", apperr.New(apperr.CodeUpstream, "GitHub OAuth exchange failed")
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		log.Logger.Error("oauth exchange returned no token", zap.ByteString("body", body))
		return "", "", apperr.New(apperr.CodeUpstream, "GitHub OAuth exchange failed")
	}

	username, err = c.authenticatedUser(ctx, parsed.AccessToken)
	if err != nil {
		return "", "", err
	}
	return parsed.AccessToken, username, nil
}

func (c *Client) authenticatedUser(ctx context.Context, token string) (string, error) {
	body, err := c.get(ctx, token, c.apiBaseURL+"/user")
	if err != nil {
		return "", err
	}
	var parsed struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperr.Wrap(err, apperr.CodeUpstream, "unexpected user response")
	}
	return parsed.Login, nil
}

// ListUserRepos lists the token owner's repositories, newest activity first.
func (c *Client) ListUserRepos(ctx context.Context, token string) ([]models.RemoteRepo, error) {
	body, err := c.get(ctx, token, fmt.Sprintf("%s/user/repos?per_page=100&sort=updated", c.apiBaseURL))
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
		Private       bool   `json:"private"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unexpected repos response")
	}

	repos := make([]models.RemoteRepo, 0, len(parsed))
	for _, r := range parsed {
		repos = append(repos, models.RemoteRepo{
			Name:          r.Name,
			Owner:         r.Owner.Login,
			FullName:      r.FullName,
			DefaultBranch: r.DefaultBranch,
			Private:       r.Private,
		})
	}
	return repos, nil
}
