package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/apply"
	"github.com/wakelak/wakelak/internal/changeset"
	"github.com/wakelak/wakelak/internal/github"
	"github.com/wakelak/wakelak/internal/llm"
	"github.com/wakelak/wakelak/internal/log"
	"github.com/wakelak/wakelak/internal/models"
	"github.com/wakelak/wakelak/internal/stream"
)

// Auth

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.sessions.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Projects

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.queries.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		GitHubOwner string `json:"githubOwner"`
		GitHubRepo  string `json:"githubRepo"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, apperr.New(apperr.CodeValidation, "project name is required"))
		return
	}

	project, err := s.queries.CreateProject(uuid.New().String(), req.Name, req.Description, req.GitHubOwner, req.GitHubRepo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.DeleteProject(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleOpenProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queries.TouchProject(id); err != nil {
		writeError(w, err)
		return
	}
	project, err := s.queries.GetProject(id)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeNotFound, "project not found"))
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleLinkProject attaches a repository to an existing project, the step
// after creating a project from scratch and connecting GitHub.
func (s *Server) handleLinkProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ref := models.RepositoryRef{Owner: req.Owner, Repo: req.Repo}
	if err := github.ValidateRef(&ref); err != nil {
		writeError(w, err)
		return
	}

	id := r.PathValue("id")
	if err := s.queries.LinkProjectRepo(id, req.Owner, req.Repo); err != nil {
		writeError(w, err)
		return
	}
	project, err := s.queries.GetProject(id)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeNotFound, "project not found"))
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.queries.ListMessages(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// GitHub account

func (s *Server) handleGitHubOAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
		Code   string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := userFrom(r)

	switch req.Action {
	case "exchange":
		if req.Code == "" {
			writeError(w, apperr.New(apperr.CodeValidation, "authorization code is required"))
			return
		}
		token, username, err := s.gh.ExchangeCode(r.Context(), s.cfg.GitHub.ClientID, s.cfg.GitHub.ClientSecret, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.queries.UpsertCredential(userID, token, username); err != nil {
			writeError(w, err)
			return
		}
		log.Logger.Info("github account linked", zap.String("username", username))
		writeJSON(w, http.StatusOK, map[string]string{"username": username})

	case "repos":
		token, err := s.resolver.Resolve(userID)
		if err != nil {
			writeError(w, err)
			return
		}
		repos, err := s.gh.ListUserRepos(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"repos": repos})

	case "disconnect":
		if err := s.queries.DeleteCredential(userID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})

	default:
		writeError(w, apperr.Newf(apperr.CodeValidation, "unknown action %q", req.Action))
	}
}

// Repository sync

func (s *Server) handleGitHubSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string `json:"action"`
		Owner   string `json:"owner"`
		Repo    string `json:"repo"`
		Branch  string `json:"branch"`
		Path    string `json:"path"`
		Content string `json:"content"`
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ref := models.RepositoryRef{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch}
	if err := github.ValidateRef(&ref); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.resolver.Resolve(userFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Action {
	case "list":
		tree, err := s.gh.ListTree(r.Context(), token, ref)
		if err != nil {
			writeError(w, err)
			return
		}
		files := github.FilterBlobs(tree)
		if files == nil {
			files = []models.FileNode{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": files})

	case "read":
		if !changeset.SafePath(req.Path) {
			writeError(w, apperr.Newf(apperr.CodeValidation, "invalid path %q", req.Path))
			return
		}
		record, err := s.gh.ReadFile(r.Context(), token, ref, req.Path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case "write":
		if !changeset.SafePath(req.Path) {
			writeError(w, apperr.Newf(apperr.CodeValidation, "invalid path %q", req.Path))
			return
		}
		if utf8.RuneCountInString(req.Content) > s.cfg.Limits.MaxContentChars {
			writeError(w, apperr.Newf(apperr.CodeValidation, "content exceeds %d characters", s.cfg.Limits.MaxContentChars))
			return
		}
		sha, err := s.gh.WriteFile(r.Context(), token, ref, req.Path, req.Content, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "sha": sha})

	default:
		writeError(w, apperr.Newf(apperr.CodeValidation, "unknown action %q", req.Action))
	}
}

// Change proposer

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Owner  string `json:"owner"`
		Repo   string `json:"repo"`
		Branch string `json:"branch"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ref := models.RepositoryRef{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch}
	changes, err := s.agent.ProposeChanges(r.Context(), req.Prompt, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleAgentFix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string `json:"path"`
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	fixed, err := s.agent.FixCode(r.Context(), req.Path, req.Code, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": fixed})
}

// Applier

func (s *Server) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner   string              `json:"owner"`
		Repo    string              `json:"repo"`
		Branch  string              `json:"branch"`
		Message string              `json:"message"`
		Changes []models.FileChange `json:"changes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ref := models.RepositoryRef{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch}
	if err := github.ValidateRef(&ref); err != nil {
		writeError(w, err)
		return
	}

	changes := changeset.SanitizeChanges(req.Changes, s.cfg.Limits.MaxContentChars)
	if len(changes) == 0 {
		writeError(w, apperr.New(apperr.CodeNoChanges, "no valid changes to apply"))
		return
	}

	token, err := s.resolver.Resolve(userFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	results := apply.Apply(r.Context(), s.gh, token, ref, models.ChangeSet{Changes: changes, Message: req.Message})
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": apply.Succeeded(results),
		"total":     len(results),
	})
}

// Chat relay

const chatSystemPrompt = `You are a web development assistant for a React + Vite + Tailwind + TypeScript project.
Answer in the user's language and keep answers short and practical.
When the user asks you to change project files, include exactly one fenced block tagged "apply" at the end of your reply, holding JSON of the form {"message": "<commit summary>", "changes": [{"path": "<relative path>", "content": "<full file content>"}]}.
Only include an apply block when file changes are actually requested.`

type chatContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handleChat relays a streaming chat completion to the browser unmodified
// while reconstructing the assistant text server-side so the turn can be
// persisted to the project history.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string            `json:"projectId"`
		Messages    []llm.Message     `json:"messages"`
		FileContext []chatContextFile `json:"fileContext"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, apperr.New(apperr.CodeValidation, "messages are required"))
		return
	}

	messages := make([]llm.Message, 0, len(req.Messages)+2)
	messages = append(messages, llm.Message{Role: "system", Content: chatSystemPrompt})
	if ctxMsg := buildFileContext(req.FileContext, s.cfg.Limits.MaxContextTokens); ctxMsg != "" {
		messages = append(messages, llm.Message{Role: "system", Content: ctxMsg})
		log.Logger.Debug("chat file context",
			zap.Int("files", len(req.FileContext)),
			zap.Int("tokens", llm.EstimateTokens(ctxMsg)))
	}
	messages = append(messages, req.Messages...)

	if req.ProjectID != "" {
		if last := req.Messages[len(req.Messages)-1]; last.Role == "user" {
			if _, err := s.queries.CreateMessage(req.ProjectID, "user", last.Content); err != nil {
				log.Logger.Warn("persisting user message", zap.Error(err))
			}
		}
	}

	upstream, err := s.ai.ChatStream(r.Context(), messages)
	if err != nil {
		writeError(w, err)
		return
	}
	defer upstream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.CodeInternal, "streaming is not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var assistant strings.Builder
	var decoder stream.Decoder
	buf := make([]byte, 4096)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				// Client went away; the turn is lost, matching a closed tab.
				log.Logger.Debug("chat client disconnected", zap.Error(err))
				return
			}
			flusher.Flush()
			for _, delta := range decoder.Feed(buf[:n]) {
				assistant.WriteString(delta)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Logger.Warn("chat upstream read failed", zap.Error(readErr))
			break
		}
	}
	for _, delta := range decoder.Flush() {
		assistant.WriteString(delta)
	}

	if req.ProjectID != "" && assistant.Len() > 0 {
		if _, err := s.queries.CreateMessage(req.ProjectID, "assistant", assistant.String()); err != nil {
			log.Logger.Warn("persisting assistant message", zap.Error(err))
		}
	}
}

// buildFileContext formats the open files into one context message, bounded
// by the token budget so a large file cannot crowd out the conversation.
func buildFileContext(files []chatContextFile, maxTokens int) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Current project files:\n")
	for _, f := range files {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", f.Path, f.Content)
	}
	return llm.TruncateToTokens(sb.String(), maxTokens)
}
