package models

import "time"

// RepositoryRef identifies a remote GitHub repository and branch.
type RepositoryRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

// String returns the owner/repo form used in prompts and commit messages.
func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Repo
}

// FileNode is one entry of a repository tree listing. Only "blob" entries
// are files eligible for editing.
type FileNode struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
}

// FileRecord is the last-fetched state of one file. SHA is the opaque
// revision marker required for a safe conditional write; it goes stale the
// moment anyone else writes the same path, detected only at write time.
type FileRecord struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// FileChange is one proposed file write.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ChangeSet is a validated batch of proposed file writes.
type ChangeSet struct {
	Changes []FileChange `json:"changes"`
	Message string       `json:"message,omitempty"`
}

// Credential is a stored GitHub access token. Server-side only, never
// exposed to the browser.
type Credential struct {
	UserID         string
	Token          string
	GitHubUsername string
	ConnectedAt    time.Time
}

// Project correlates a local project record with an optional repository.
type Project struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	GitHubOwner  string     `json:"githubOwner,omitempty"`
	GitHubRepo   string     `json:"githubRepo,omitempty"`
	LastOpenedAt *time.Time `json:"lastOpenedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Message is one turn of a project's chat history.
type Message struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"projectId"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RemoteRepo is one repository of the connected GitHub account.
type RemoteRepo struct {
	Name          string `json:"name"`
	Owner         string `json:"owner"`
	FullName      string `json:"fullName"`
	DefaultBranch string `json:"defaultBranch"`
	Private       bool   `json:"private"`
}
