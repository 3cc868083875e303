// Package github wraps the GitHub Trees/Contents API: list a repository
// tree, read a file with its revision marker, and write a file conditioned
// on the last known marker.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/log"
	"github.com/wakelak/wakelak/internal/models"
)

var (
	ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	repoPattern  = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)
)

// ValidateRef checks owner and repo shape and fills in the default branch.
// Invalid refs are rejected before any network call.
func ValidateRef(ref *models.RepositoryRef) error {
	if !ownerPattern.MatchString(ref.Owner) {
		return apperr.Newf(apperr.CodeValidation, "invalid repository owner %q", ref.Owner)
	}
	if !repoPattern.MatchString(ref.Repo) {
		return apperr.Newf(apperr.CodeValidation, "invalid repository name %q", ref.Repo)
	}
	if ref.Branch == "" {
		ref.Branch = "main"
	}
	return nil
}

const defaultTimeout = 15 * time.Second

// Client talks to the GitHub REST API. Tokens are supplied per call by the
// credential resolver; the client itself holds none.
type Client struct {
	apiBaseURL   string
	oauthBaseURL string
	httpClient   *http.Client
	timeout      time.Duration
	botName      string
	botEmail     string
}

type Option func(*Client)

func WithAPIBaseURL(u string) Option {
	return func(c *Client) { c.apiBaseURL = strings.TrimSuffix(u, "/") }
}

func WithOAuthBaseURL(u string) Option {
	return func(c *Client) { c.oauthBaseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCommitter sets the bot identity attached to every machine-driven
// commit, keeping them distinguishable from the acting user in history.
func WithCommitter(name, email string) Option {
	return func(c *Client) {
		c.botName = name
		c.botEmail = email
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		apiBaseURL:   "https://api.github.com",
		oauthBaseURL: "https://github.com",
		httpClient:   &http.Client{},
		timeout:      defaultTimeout,
		botName:      "wakelak-bot",
		botEmail:     "bot@wakelak.dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListTree fetches the recursive tree for ref's branch. The full tree is
// returned; use FilterBlobs for callers that only want editable files.
func (c *Client) ListTree(ctx context.Context, token string, ref models.RepositoryRef) ([]models.FileNode, error) {
	if err := ValidateRef(&ref); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiBaseURL, ref.Owner, ref.Repo, url.PathEscape(ref.Branch))
	body, err := c.get(ctx, token, u)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tree []models.FileNode `json:"tree"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unexpected repository tree response")
	}
	return parsed.Tree, nil
}

// FilterBlobs drops every non-blob entry from a tree listing.
func FilterBlobs(nodes []models.FileNode) []models.FileNode {
	var out []models.FileNode
	for _, n := range nodes {
		if n.Type == "blob" {
			out = append(out, n)
		}
	}
	return out
}

// ReadFile fetches one file's content and revision marker. The remote store
// transports content base64-encoded; the gateway decodes it to text.
func (c *Client) ReadFile(ctx context.Context, token string, ref models.RepositoryRef, path string) (*models.FileRecord, error) {
	if err := ValidateRef(&ref); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiBaseURL, ref.Owner, ref.Repo, escapePath(path), url.QueryEscape(ref.Branch))
	body, err := c.get(ctx, token, u)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unexpected file response")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parsed.Content, "\n", ""))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "file content is not valid base64")
	}

	return &models.FileRecord{Path: path, Content: string(decoded), SHA: parsed.SHA}, nil
}

// WriteFile performs a conditional update: it reads the file's current
// revision marker best-effort (absence means a new file is being created),
// then submits the write tagged with that marker. A stale marker makes the
// remote store reject the write; that surfaces as a conflict and is never
// retried here — the caller must re-read and resubmit.
func (c *Client) WriteFile(ctx context.Context, token string, ref models.RepositoryRef, path, content, message string) (string, error) {
	if err := ValidateRef(&ref); err != nil {
		return "", err
	}
	if message == "" {
		message = fmt.Sprintf("Update %s via Wakelak", path)
	}

	currentSHA := c.currentSHA(ctx, token, ref, path)

	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  ref.Branch,
		"committer": map[string]string{
			"name":  c.botName,
			"email": c.botEmail,
		},
	}
	if currentSHA != "" {
		payload["sha"] = currentSHA
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiBaseURL, ref.Owner, ref.Repo, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	log.Logger.Debug("github PUT", zap.String("repo", ref.String()), zap.String("path", path), zap.Bool("create", currentSHA == ""))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		log.Logger.Warn("github write conflict", zap.String("path", path), zap.ByteString("body", body))
		return "", apperr.Newf(apperr.CodeConflict, "%s was modified remotely, reload the file and try again", path)
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.Newf(apperr.CodeNotFound, "repository %s not found", ref.String())
	default:
		log.Logger.Error("github write failed", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", apperr.Newf(apperr.CodeUpstream, "failed to write %s", path)
	}

	var parsed struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperr.Wrap(err, apperr.CodeUpstream, "unexpected write response")
	}
	return parsed.Content.SHA, nil
}

// currentSHA returns the file's revision marker, or "" when the path does
// not exist yet or the lookup fails. Best-effort only: a failed lookup
// degrades to a create attempt, which the remote store rejects if the file
// actually exists.
func (c *Client) currentSHA(ctx context.Context, token string, ref models.RepositoryRef, path string) string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiBaseURL, ref.Owner, ref.Repo, escapePath(path), url.QueryEscape(ref.Branch))
	body, err := c.get(ctx, token, u)
	if err != nil {
		return ""
	}
	var parsed struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.SHA
}

func (c *Client) get(ctx context.Context, token, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)

	log.Logger.Debug("github GET", zap.String("url", u))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.New(apperr.CodeNotFound, "not found on the remote repository")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Logger.Warn("github rejected credential", zap.Int("status", resp.StatusCode))
		return nil, apperr.New(apperr.CodeCredentialMissing, "GitHub rejected the access token, reconnect your account")
	default:
		log.Logger.Error("github request failed", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, apperr.New(apperr.CodeUpstream, "GitHub request failed")
	}
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.CodeTimeout, "GitHub did not respond in time")
	}
	return apperr.Wrap(err, apperr.CodeUpstream, "could not reach GitHub")
}
