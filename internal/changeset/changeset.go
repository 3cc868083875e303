// Package changeset turns untrusted lists of proposed file changes into
// batches that are safe to commit, and extracts change proposals embedded in
// assistant chat replies.
package changeset

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/wakelak/wakelak/internal/models"
)

// MaxContentChars is the default per-file content ceiling, counted in
// characters rather than bytes so multibyte text is not penalized.
const MaxContentChars = 1_000_000

// Sanitize filters candidate changes down to the entries that are safe to
// apply. Entries are checked independently and order is preserved; an
// invalid entry is dropped, never fatal for the batch. The caller must treat
// an empty result as invalid rather than applying a no-op.
func Sanitize(candidates []any, maxContentChars int) []models.FileChange {
	if maxContentChars <= 0 {
		maxContentChars = MaxContentChars
	}
	var out []models.FileChange
	for _, c := range candidates {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		path, ok := m["path"].(string)
		if !ok {
			continue
		}
		content, ok := m["content"].(string)
		if !ok {
			continue
		}
		if !SafePath(path) {
			continue
		}
		if utf8.RuneCountInString(content) > maxContentChars {
			continue
		}
		out = append(out, models.FileChange{Path: path, Content: content})
	}
	return out
}

// SanitizeChanges is Sanitize for already-typed changes, used when the input
// went through a typed JSON decode.
func SanitizeChanges(candidates []models.FileChange, maxContentChars int) []models.FileChange {
	if maxContentChars <= 0 {
		maxContentChars = MaxContentChars
	}
	var out []models.FileChange
	for _, c := range candidates {
		if !SafePath(c.Path) || utf8.RuneCountInString(c.Content) > maxContentChars {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SafePath reports whether path may be written: non-empty, relative, and
// free of ".." segments.
func SafePath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// applyBlockPattern matches the first fenced block tagged "apply" or "json".
// First match wins; later blocks in the same reply are ignored.
var applyBlockPattern = regexp.MustCompile("```(?:apply|json)[ \t]*\n((?s:.*?))\n```")

// ExtractApplyBlock searches assistant text for an embedded change proposal:
// a fenced apply/json block holding {"message"?, "changes":[{path,content}]}.
// Absence of a block, malformed JSON, or a non-object payload all return
// (nil, false) — the model legitimately replies without proposing changes,
// so this is not an error. Returned changes are shape-filtered only; callers
// still run Sanitize before any write.
func ExtractApplyBlock(text string) (*models.ChangeSet, bool) {
	m := applyBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	var payload struct {
		Message string `json:"message"`
		Changes []any  `json:"changes"`
	}
	if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
		return nil, false
	}

	var changes []models.FileChange
	for _, c := range payload.Changes {
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		path, ok := obj["path"].(string)
		if !ok {
			continue
		}
		content, ok := obj["content"].(string)
		if !ok {
			continue
		}
		changes = append(changes, models.FileChange{Path: path, Content: content})
	}

	return &models.ChangeSet{Changes: changes, Message: payload.Message}, true
}

var codeBlockPattern = regexp.MustCompile("```[a-zA-Z0-9]*\n((?s:.*?))\n```")

// ExtractCodeBlock returns the contents of the first fenced code block in
// text, or text unchanged when no block is present. Used to strip markdown
// from model replies that should be plain code.
func ExtractCodeBlock(text string) string {
	if m := codeBlockPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}
