package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/changeset"
	"github.com/wakelak/wakelak/internal/llm"
)

const fixSystemPrompt = `You are an expert at fixing code errors. Your job:

1. Analyze the error and understand its exact cause
2. Suggest the fix by returning the corrected code directly
3. Briefly explain the changes

Return the complete corrected code with no extra text before or after it.
Use markdown formatting with a fenced code block.`

// FixCode asks the model to repair code that produced errMsg and returns the
// corrected file content, stripped of any markdown fencing in the reply.
func (a *Agent) FixCode(ctx context.Context, path, code, errMsg string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", apperr.New(apperr.CodeValidation, "code is empty")
	}
	if strings.TrimSpace(errMsg) == "" {
		return "", apperr.New(apperr.CodeValidation, "error description is empty")
	}

	userPrompt := fmt.Sprintf("File: %s\n\nCurrent code:\n```\n%s\n```\n\nError:\n%s\n\nFix this error and return the complete corrected code.",
		path, code, errMsg)

	reply, err := a.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: fixSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return "", err
	}

	return changeset.ExtractCodeBlock(reply), nil
}
