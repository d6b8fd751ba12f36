package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task 全局表和项目专属表共用同一结构
type Task struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	ProjectID          *string      `json:"project_id,omitempty"`
	StageID            *string      `json:"stage_id,omitempty"`
	ParentTaskID       *string      `json:"parent_task_id,omitempty"`
	HierarchicalNumber *string      `json:"hierarchical_number,omitempty"`
	Status             TaskStatus   `json:"status"`
	Priority           TaskPriority `json:"priority"`
	Assignees          []string     `json:"assignees"`
	DueDate            *time.Time   `json:"due_date,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	Deleted            bool         `json:"deleted"`
	OriginalTaskID     *string      `json:"original_task_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Validate checks enumerations and the hierarchical number format.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: invalid priority %q", t.ID, t.Priority)
	}
	if t.HierarchicalNumber != nil {
		if _, err := ParseHierarchicalNumber(*t.HierarchicalNumber); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy so stores never share pointer fields with callers.
func (t Task) Clone() Task {
	c := t
	c.ProjectID = cloneString(t.ProjectID)
	c.StageID = cloneString(t.StageID)
	c.ParentTaskID = cloneString(t.ParentTaskID)
	c.HierarchicalNumber = cloneString(t.HierarchicalNumber)
	c.OriginalTaskID = cloneString(t.OriginalTaskID)
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.Assignees != nil {
		c.Assignees = append([]string(nil), t.Assignees...)
	}
	return c
}

// ParseHierarchicalNumber splits "1.2.3" into its positive integer segments.
func ParseHierarchicalNumber(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty hierarchical number")
	}
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || p != strconv.Itoa(n) {
			return nil, fmt.Errorf("invalid hierarchical number %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

// IsChildNumber reports whether child sits exactly one level below parent.
func IsChildNumber(parent, child string) bool {
	if !strings.HasPrefix(child, parent+".") {
		return false
	}
	rest := strings.TrimPrefix(child, parent+".")
	if strings.Contains(rest, ".") {
		return false
	}
	_, err := ParseHierarchicalNumber(child)
	return err == nil
}

func StringPtr(s string) *string { return &s }

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
