package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wakelak/wakelak/internal/models"
)

type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Projects

func (q *Queries) CreateProject(id, name, description, githubOwner, githubRepo string) (*models.Project, error) {
	_, err := q.db.Exec(
		`INSERT INTO projects (id, name, description, github_owner, github_repo) VALUES (?, ?, ?, ?, ?)`,
		id, name, description, githubOwner, githubRepo,
	)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return q.GetProject(id)
}

func (q *Queries) GetProject(id string) (*models.Project, error) {
	p := &models.Project{}
	var lastOpenedAt sql.NullString
	var createdAt string
	err := q.db.QueryRow(
		`SELECT id, name, description, github_owner, github_repo, last_opened_at, created_at
		 FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.GitHubOwner, &p.GitHubRepo, &lastOpenedAt, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	if lastOpenedAt.Valid {
		t, _ := time.Parse(time.DateTime, lastOpenedAt.String)
		p.LastOpenedAt = &t
	}
	p.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return p, nil
}

func (q *Queries) ListProjects() ([]models.Project, error) {
	rows, err := q.db.Query(
		`SELECT id, name, description, github_owner, github_repo, last_opened_at, created_at
		 FROM projects ORDER BY last_opened_at DESC, created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var results []models.Project
	for rows.Next() {
		var p models.Project
		var lastOpenedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.GitHubOwner, &p.GitHubRepo, &lastOpenedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		if lastOpenedAt.Valid {
			t, _ := time.Parse(time.DateTime, lastOpenedAt.String)
			p.LastOpenedAt = &t
		}
		p.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		results = append(results, p)
	}
	return results, rows.Err()
}

// TouchProject records that the project was opened in the editor.
func (q *Queries) TouchProject(id string) error {
	_, err := q.db.Exec(`UPDATE projects SET last_opened_at = datetime('now') WHERE id = ?`, id)
	return err
}

func (q *Queries) LinkProjectRepo(id, githubOwner, githubRepo string) error {
	_, err := q.db.Exec(
		`UPDATE projects SET github_owner = ?, github_repo = ? WHERE id = ?`,
		githubOwner, githubRepo, id,
	)
	return err
}

func (q *Queries) DeleteProject(id string) error {
	if _, err := q.db.Exec(`DELETE FROM messages WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("deleting project messages: %w", err)
	}
	if _, err := q.db.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}

// Credentials

func (q *Queries) UpsertCredential(userID, token, githubUsername string) error {
	_, err := q.db.Exec(
		`INSERT INTO credentials (user_id, token, github_username) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token = excluded.token,
		     github_username = excluded.github_username, connected_at = datetime('now')`,
		userID, token, githubUsername,
	)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential for userID, or (nil, nil) when
// the user has never linked an account.
func (q *Queries) GetCredential(userID string) (*models.Credential, error) {
	c := &models.Credential{}
	var connectedAt string
	err := q.db.QueryRow(
		`SELECT user_id, token, github_username, connected_at FROM credentials WHERE user_id = ?`, userID,
	).Scan(&c.UserID, &c.Token, &c.GitHubUsername, &connectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	c.ConnectedAt, _ = time.Parse(time.DateTime, connectedAt)
	return c, nil
}

func (q *Queries) DeleteCredential(userID string) error {
	if _, err := q.db.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// Messages

func (q *Queries) CreateMessage(projectID, role, content string) (*models.Message, error) {
	res, err := q.db.Exec(
		`INSERT INTO messages (project_id, role, content) VALUES (?, ?, ?)`,
		projectID, role, content,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	id, _ := res.LastInsertId()

	m := &models.Message{}
	var createdAt string
	err = q.db.QueryRow(
		`SELECT id, project_id, role, content, created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return m, nil
}

func (q *Queries) ListMessages(projectID string) ([]models.Message, error) {
	rows, err := q.db.Query(
		`SELECT id, project_id, role, content, created_at
		 FROM messages WHERE project_id = ? ORDER BY id ASC`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var results []models.Message
	for rows.Next() {
		var m models.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		results = append(results, m)
	}
	return results, rows.Err()
}
