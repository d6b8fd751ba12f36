package model

import (
	"strings"
	"time"
)

type Stage struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ProjectID   *string   `json:"project_id,omitempty"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TitleKey is the match key used when re-pointing tasks between stage tables.
func TitleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func (s Stage) Clone() Stage {
	c := s
	c.ProjectID = cloneString(s.ProjectID)
	return c
}
