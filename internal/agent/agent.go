// Package agent converts natural-language instructions into validated file
// change-sets using the AI gateway.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/changeset"
	"github.com/wakelak/wakelak/internal/github"
	"github.com/wakelak/wakelak/internal/llm"
	"github.com/wakelak/wakelak/internal/models"
)

const proposeSystemPrompt = `You are an AI specialized in React/TypeScript. Analyze the user's request and create or modify the required files.
Return the edits as a list of files (path) with their full content (content). Keep explanations minimal.
Important rules: do not use Next.js. This is a React + Vite + Tailwind + TypeScript + shadcn/ui project.
Use @/ imports where appropriate. Avoid unrequested changes.`

// Agent is the one-shot change proposer: one instruction in, one validated
// change-set out.
type Agent struct {
	llm             *llm.Client
	maxPromptChars  int
	maxContentChars int
}

func New(client *llm.Client, maxPromptChars, maxContentChars int) *Agent {
	if maxPromptChars <= 0 {
		maxPromptChars = 8000
	}
	return &Agent{llm: client, maxPromptChars: maxPromptChars, maxContentChars: maxContentChars}
}

func proposeFileChangesTool() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        "propose_file_changes",
			Description: "Return a list of file changes (path + full content).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"changes": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path":    map[string]any{"type": "string"},
								"content": map[string]any{"type": "string"},
							},
							"required":             []string{"path", "content"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"changes"},
				"additionalProperties": false,
			},
		},
	}
}

// ProposeChanges asks the model for file changes satisfying prompt against
// the given repository. The model must answer through a single structured
// tool call; its output is sanitized, and an empty surviving set fails
// rather than silently succeeding with nothing to apply. A malformed model
// response is not retried.
func (a *Agent) ProposeChanges(ctx context.Context, prompt string, ref models.RepositoryRef) ([]models.FileChange, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperr.New(apperr.CodeValidation, "prompt is empty")
	}
	if utf8.RuneCountInString(prompt) > a.maxPromptChars {
		return nil, apperr.Newf(apperr.CodeValidation, "prompt exceeds %d characters", a.maxPromptChars)
	}
	if err := github.ValidateRef(&ref); err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: "system", Content: proposeSystemPrompt},
		{
			Role: "user",
			Content: fmt.Sprintf("Repo: %s\nUser request: %s\n\nYour output must be a single tool call to propose_file_changes.",
				ref.String(), prompt),
		},
	}

	args, err := a.llm.ChatTool(ctx, messages, proposeFileChangesTool())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Changes []any `json:"changes"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "the model returned an unreadable proposal")
	}

	changes := changeset.Sanitize(parsed.Changes, a.maxContentChars)
	if len(changes) == 0 {
		return nil, apperr.New(apperr.CodeNoChanges, "no valid changes produced")
	}
	return changes, nil
}
