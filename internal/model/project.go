package model

import (
	"strings"
	"time"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type Project struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         ProjectStatus `json:"status"`
	EntrepreneurID *string       `json:"entrepreneur_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type Entrepreneur struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	CreatedAt   time.Time `json:"created_at"`
}

// NormalizeName returns the lookup key used for case-insensitive lookup-or-create.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
