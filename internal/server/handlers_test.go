package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wakelak/wakelak/internal/config"
	"github.com/wakelak/wakelak/internal/db"
	"github.com/wakelak/wakelak/internal/github"
	"github.com/wakelak/wakelak/internal/llm"
)

type testEnv struct {
	srv   *Server
	api   *httptest.Server
	token string
}

// fakeGitHub is just enough of the Contents API for the apply and sync
// handlers: it stores files in memory and enforces the revision marker.
func fakeGitHub(t *testing.T) *httptest.Server {
	files := map[string]string{}
	shas := map[string]string{}
	seq := 0

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/web/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		tree := []map[string]string{}
		for p, sha := range shas {
			tree = append(tree, map[string]string{"path": p, "type": "blob", "sha": sha})
		}
		json.NewEncoder(w).Encode(map[string]any{"tree": tree})
	})
	mux.HandleFunc("GET /repos/acme/web/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		p := r.PathValue("path")
		content, ok := files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString([]byte(content)),
			"sha":     shas[p],
		})
	})
	mux.HandleFunc("PUT /repos/acme/web/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
			SHA     string `json:"sha"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		p := r.PathValue("path")
		if existing, ok := shas[p]; ok && req.SHA != existing {
			w.WriteHeader(http.StatusConflict)
			return
		}
		decoded, _ := base64.StdEncoding.DecodeString(req.Content)
		files[p] = string(decoded)
		seq++
		shas[p] = fmt.Sprintf("sha-%d", seq)
		json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": shas[p]}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T, ai http.HandlerFunc) *testEnv {
	cfg := &config.Config{}
	cfg.Auth.Secret = "test-secret"
	cfg.Auth.Email = "owner@example.com"
	cfg.Auth.Password = "hunter2"
	cfg.Auth.TokenTTL = time.Hour
	cfg.GitHub.FallbackToken = "fallback-token"
	cfg.Limits.MaxPromptChars = 8000
	cfg.Limits.MaxContentChars = 1_000_000
	cfg.Limits.MaxContextTokens = 12_000

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	gh := fakeGitHub(t)
	ghClient := github.NewClient(github.WithAPIBaseURL(gh.URL))

	aiBase := "http://localhost:0"
	if ai != nil {
		aiSrv := httptest.NewServer(ai)
		t.Cleanup(aiSrv.Close)
		aiBase = aiSrv.URL
	}
	aiClient := llm.NewClient(aiBase, "test-key", "test-model")

	s := New(cfg, db.NewQueries(database), ghClient, aiClient)
	api := httptest.NewServer(s.Handler())
	t.Cleanup(api.Close)

	env := &testEnv{srv: s, api: api}
	env.token = env.login(t, "owner@example.com", "hunter2")
	return env
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	resp := e.do(t, "POST", "/api/login", "", map[string]string{"email": email, "password": password})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["token"]
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResp[T any](t *testing.T, resp *http.Response) T {
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@example.com", "password": "nope"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/projects", "/api/github/sync", "/api/agent", "/api/chat"} {
		resp := env.do(t, "POST", path, "", map[string]string{})
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "path %s", path)
	}

	resp := env.do(t, "GET", "/api/projects", "garbage-token", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProjectEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/projects", env.token, map[string]string{
		"name": "Landing", "githubOwner": "acme", "githubRepo": "web",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResp[map[string]any](t, resp)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	resp = env.do(t, "POST", "/api/projects", env.token, map[string]string{"name": "  "})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/api/projects", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeResp[map[string][]map[string]any](t, resp)
	require.Len(t, listed["projects"], 1)

	resp = env.do(t, "POST", "/api/projects/"+id+"/open", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	opened := decodeResp[map[string]any](t, resp)
	require.NotNil(t, opened["lastOpenedAt"])

	resp = env.do(t, "GET", "/api/projects/"+id+"/messages", env.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeResp[map[string][]any](t, resp)
	require.Empty(t, msgs["messages"])

	resp = env.do(t, "DELETE", "/api/projects/"+id, env.token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLinkProject(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/projects", env.token, map[string]string{"name": "Fresh"})
	created := decodeResp[map[string]any](t, resp)
	id := created["id"].(string)
	require.Nil(t, created["githubRepo"])

	resp = env.do(t, "POST", "/api/projects/"+id+"/link", env.token, map[string]string{
		"owner": "acme", "repo": "web",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	linked := decodeResp[map[string]any](t, resp)
	require.Equal(t, "acme", linked["githubOwner"])
	require.Equal(t, "web", linked["githubRepo"])

	resp = env.do(t, "POST", "/api/projects/"+id+"/link", env.token, map[string]string{
		"owner": "bad owner", "repo": "web",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "list", "owner": "bad owner", "repo": "web",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "read", "owner": "acme", "repo": "web", "path": "../secret",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "destroy", "owner": "acme", "repo": "web",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "write", "owner": "acme", "repo": "web",
		"path": "src/App.tsx", "content": "export default function App() {}",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	written := decodeResp[map[string]string](t, resp)
	require.NotEmpty(t, written["sha"])

	resp = env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "read", "owner": "acme", "repo": "web", "path": "src/App.tsx",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	record := decodeResp[map[string]string](t, resp)
	require.Equal(t, "export default function App() {}", record["content"])
	require.Equal(t, written["sha"], record["sha"])

	resp = env.do(t, "POST", "/api/github/sync", env.token, map[string]string{
		"action": "list", "owner": "acme", "repo": "web",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeResp[map[string][]map[string]string](t, resp)
	require.Len(t, listed["files"], 1)
}

func TestApplyChanges(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/changes/apply", env.token, map[string]any{
		"owner": "acme", "repo": "web", "message": "scaffold pages",
		"changes": []map[string]string{
			{"path": "src/pages/Home.tsx", "content": "home"},
			{"path": "../escape.sh", "content": "nope"},
			{"path": "src/pages/About.tsx", "content": "about"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResp[struct {
		Results []struct {
			Path   string `json:"path"`
			Status string `json:"status"`
			SHA    string `json:"sha"`
		} `json:"results"`
		Succeeded int `json:"succeeded"`
		Total     int `json:"total"`
	}](t, resp)

	// The traversal path is dropped before the applier runs.
	require.Equal(t, 2, body.Total)
	require.Equal(t, 2, body.Succeeded)
	require.Equal(t, "src/pages/Home.tsx", body.Results[0].Path)
	require.Equal(t, "success", body.Results[0].Status)
	require.NotEmpty(t, body.Results[0].SHA)
}

func TestApplyChangesAllInvalid(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/changes/apply", env.token, map[string]any{
		"owner": "acme", "repo": "web",
		"changes": []map[string]string{{"path": "/abs.ts", "content": "x"}},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAgentEndpoint(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.ChatResponse{Choices: []llm.Choice{
			{Message: &llm.ChoiceMessage{ToolCalls: []llm.ToolCall{
				{Function: llm.ToolCallFunction{
					Name:      "propose_file_changes",
					Arguments: `{"changes":[{"path":"src/Nav.tsx","content":"nav"}]}`,
				}},
			}}},
		}})
	})

	resp := env.do(t, "POST", "/api/agent", env.token, map[string]string{
		"prompt": "add a navbar", "owner": "acme", "repo": "web",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResp[map[string][]map[string]string](t, resp)
	require.Len(t, body["changes"], 1)
	require.Equal(t, "src/Nav.tsx", body["changes"][0]["path"])
}

func TestAgentRateLimitSurfaces(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	resp := env.do(t, "POST", "/api/agent", env.token, map[string]string{
		"prompt": "add a navbar", "owner": "acme", "repo": "web",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	body := decodeResp[map[string]string](t, resp)
	require.Equal(t, "rate_limited", body["code"])
}

func TestChatRelayAndPersistence(t *testing.T) {
	const sse = "data: {\"choices\":[{\"delta\":{\"content\":\"All \"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"done.\"}}]}\n\n" +
		"data: [DONE]\n\n"

	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.Equal(t, "system", req.Messages[0].Role)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sse)
	})

	resp := env.do(t, "POST", "/api/projects", env.token, map[string]string{"name": "Chat"})
	project := decodeResp[map[string]any](t, resp)
	projectID := project["id"].(string)

	resp = env.do(t, "POST", "/api/chat", env.token, map[string]any{
		"projectId": projectID,
		"messages":  []map[string]string{{"role": "user", "content": "finish the footer"}},
		"fileContext": []map[string]string{
			{"path": "src/Footer.tsx", "content": "export {}"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The relay passes the upstream frames through byte for byte.
	relayed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, sse, string(relayed))

	// Both turns land in the project history.
	resp = env.do(t, "GET", "/api/projects/"+projectID+"/messages", env.token, nil)
	history := decodeResp[map[string][]map[string]any](t, resp)
	require.Len(t, history["messages"], 2)
	require.Equal(t, "finish the footer", history["messages"][0]["content"])
	require.Equal(t, "assistant", history["messages"][1]["role"])
	require.Equal(t, "All done.", history["messages"][1]["content"])
}

func TestChatRequiresMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, "POST", "/api/chat", env.token, map[string]any{"messages": []any{}})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthUnknownAction(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, "POST", "/api/github/oauth", env.token, map[string]string{"action": "steal"})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthDisconnectWithoutLink(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, "POST", "/api/github/oauth", env.token, map[string]string{"action": "disconnect"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResp[map[string]bool](t, resp)
	require.True(t, body["disconnected"])
}
