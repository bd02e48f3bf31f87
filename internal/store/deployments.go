package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Deployment struct {
	ID            string    `json:"id"`
	Conversation  string    `json:"conversation"`
	AgentID       string    `json:"agent_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Digest        string    `json:"digest"`
	ReviewWarning string    `json:"review_warning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func scanDeployment(scanner interface {
	Scan(dest ...any) error
}) (*Deployment, error) {
	d := &Deployment{}
	var title, digest, warning sql.NullString
	err := scanner.Scan(&d.ID, &d.Conversation, &d.AgentID, &d.URL, &title, &digest, &warning, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Title = title.String
	d.Digest = digest.String
	d.ReviewWarning = warning.String
	return d, nil
}

const deploymentColumns = `id, conversation, agent_id, url, title, digest, review_warning, created_at`

func (s *Store) SaveDeployment(d *Deployment) error {
	_, err := s.db.Exec(`
		INSERT INTO deployments (id, conversation, agent_id, url, title, digest, review_warning)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Conversation, d.AgentID, d.URL, d.Title, d.Digest, d.ReviewWarning)
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}
	return nil
}

func (s *Store) ListDeployments(conversation string) ([]Deployment, error) {
	rows, err := s.db.Query(`SELECT `+deploymentColumns+` FROM deployments WHERE conversation = ? ORDER BY created_at DESC, rowid DESC`, conversation)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FindDeployment returns the most recent deployment of a snapshot digest.
func (s *Store) FindDeployment(conversation, digest string) (*Deployment, error) {
	row := s.db.QueryRow(`SELECT `+deploymentColumns+` FROM deployments
		WHERE conversation = ? AND digest = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversation, digest)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find deployment: %w", err)
	}
	return d, nil
}
