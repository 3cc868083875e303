// Package apply commits a validated change-set to a repository, one file
// per commit, strictly in order.
package apply

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wakelak/wakelak/internal/log"
	"github.com/wakelak/wakelak/internal/models"
)

// Gateway is the single write operation the applier needs.
type Gateway interface {
	WriteFile(ctx context.Context, token string, ref models.RepositoryRef, path, content, message string) (string, error)
}

// Result is the outcome for one path. The batch is not atomic: the remote
// store has no multi-file transaction, so earlier successes stand even when
// a later write fails, and callers retry the failed subset themselves.
type Result struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "success" or "failed"
	SHA    string `json:"sha,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Apply writes every change sequentially and reports a per-path result
// list. Writes are issued and awaited in the order given; nothing is
// reordered, batched, or rolled back.
func Apply(ctx context.Context, gw Gateway, token string, ref models.RepositoryRef, cs models.ChangeSet) []Result {
	results := make([]Result, 0, len(cs.Changes))
	for _, change := range cs.Changes {
		message := cs.Message
		if message == "" {
			message = fmt.Sprintf("Update %s via Wakelak", change.Path)
		}

		sha, err := gw.WriteFile(ctx, token, ref, change.Path, change.Content, message)
		if err != nil {
			log.Logger.Warn("apply write failed",
				zap.String("repo", ref.String()),
				zap.String("path", change.Path),
				zap.Error(err))
			results = append(results, Result{Path: change.Path, Status: "failed", Error: err.Error()})
			continue
		}
		results = append(results, Result{Path: change.Path, Status: "success", SHA: sha})
	}
	return results
}

// Succeeded counts the successful writes in results.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Status == "success" {
			n++
		}
	}
	return n
}
