package mqhandler

import (
	"context"
	"encoding/json"

	mqcontracts "taskportal/contracts/mq"
)

// HandleProjectCreated 项目创建：只校验，不建表
func (h *ProjectEventHandler) HandleProjectCreated(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ProjectCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.decodeFailed(ctx, mqcontracts.RoutingProjectCreated, raw, err)
	}
	return h.process(ctx, event{
		name:       "project_created",
		routingKey: mqcontracts.RoutingProjectCreated,
		eventID:    p.EventID,
		traceID:    p.TraceID,
		projectID:  p.ProjectID,
		raw:        raw,
	}, func(ctx context.Context) error {
		return h.lifecycle.ProjectCreated(ctx, p.ProjectID)
	})
}

// HandleTasksAssigned 任务分配：建表 + 种子复制 + 阶段同步
func (h *ProjectEventHandler) HandleTasksAssigned(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.TasksAssignedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.decodeFailed(ctx, mqcontracts.RoutingProjectTasksAssigned, raw, err)
	}
	return h.process(ctx, event{
		name:       "tasks_assigned",
		routingKey: mqcontracts.RoutingProjectTasksAssigned,
		eventID:    p.EventID,
		traceID:    p.TraceID,
		projectID:  p.ProjectID,
		raw:        raw,
	}, func(ctx context.Context) error {
		_, err := h.lifecycle.TasksAssigned(ctx, p.ProjectID, p.TaskIDs)
		return err
	})
}

// HandleProjectDeleted 项目删除：拆除专属表后删除项目
func (h *ProjectEventHandler) HandleProjectDeleted(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ProjectDeletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.decodeFailed(ctx, mqcontracts.RoutingProjectDeleted, raw, err)
	}
	return h.process(ctx, event{
		name:       "project_deleted",
		routingKey: mqcontracts.RoutingProjectDeleted,
		eventID:    p.EventID,
		traceID:    p.TraceID,
		projectID:  p.ProjectID,
		raw:        raw,
	}, func(ctx context.Context) error {
		return h.lifecycle.ProjectDeleted(ctx, p.ProjectID)
	})
}
