package mq

import "time"

// 项目生命周期事件的 routing key
const (
	RoutingProjectCreated       = "project.created"
	RoutingProjectTasksAssigned = "project.tasks_assigned"
	RoutingProjectDeleted       = "project.deleted"
)

// EventMeta 所有生命周期事件共有的字段
type EventMeta struct {
	// EventID 去重键，同一事件重复投递时保持不变
	EventID    string    `json:"event_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ProjectCreatedPayload 项目创建，此时不建表
type ProjectCreatedPayload struct {
	EventMeta
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// TasksAssignedPayload 任务分配到项目，触发建表和种子复制
type TasksAssignedPayload struct {
	EventMeta
	ProjectID string   `json:"project_id"`
	TaskIDs   []string `json:"task_ids"`
}

// ProjectDeletedPayload 项目删除，先拆除专属表再删除项目行
type ProjectDeletedPayload struct {
	EventMeta
	ProjectID string `json:"project_id"`
}
