package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contracts "taskportal/contracts/mq"
	"taskportal/internal/printer"
	"taskportal/internal/shard"
	"taskportal/pkg/config"
	"taskportal/pkg/trace"
)

// newEmitCmd 手动发布生命周期事件，用于补发或联调
func newEmitCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish a project lifecycle event",
	}

	var name string
	created := &cobra.Command{
		Use:   "created <project-id>",
		Short: "Publish project.created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd, flags, contracts.RoutingProjectCreated, args[0], func(meta contracts.EventMeta) any {
				return contracts.ProjectCreatedPayload{EventMeta: meta, ProjectID: args[0], Name: name}
			})
		},
	}
	created.Flags().StringVar(&name, "name", "", "project name")

	cmd.AddCommand(
		created,
		&cobra.Command{
			Use:   "tasks-assigned <project-id> <task-id>...",
			Short: "Publish project.tasks_assigned",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return emit(cmd, flags, contracts.RoutingProjectTasksAssigned, args[0], func(meta contracts.EventMeta) any {
					return contracts.TasksAssignedPayload{EventMeta: meta, ProjectID: args[0], TaskIDs: args[1:]}
				})
			},
		},
		&cobra.Command{
			Use:   "deleted <project-id>",
			Short: "Publish project.deleted",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return emit(cmd, flags, contracts.RoutingProjectDeleted, args[0], func(meta contracts.EventMeta) any {
					return contracts.ProjectDeletedPayload{EventMeta: meta, ProjectID: args[0]}
				})
			},
		},
	)
	return cmd
}

func emit(cmd *cobra.Command, flags *globalFlags, routingKey, projectID string, build func(contracts.EventMeta) any) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	// 发布前校验，避免无效事件进入 DLQ
	if _, err := shard.Normalize(projectID); err != nil {
		return p.Error("invalid project id", err)
	}

	cfg, err := config.Load(flags.env, flags.configDir)
	if err != nil {
		return p.Error("failed to load config", err)
	}
	pub, err := newPublisher(cfg.MQ.URL)
	if err != nil {
		return p.Error("failed to connect to MQ", err)
	}
	defer pub.Close()

	meta := contracts.EventMeta{
		EventID:    uuid.NewString(),
		TraceID:    trace.GenerateTraceID(),
		OccurredAt: time.Now().UTC(),
	}
	if err := pub.Publish(cmd.Context(), routingKey, build(meta)); err != nil {
		return p.Error(fmt.Sprintf("failed to publish %s", routingKey), err)
	}
	p.Success("published %s event_id=%s trace_id=%s", routingKey, meta.EventID, meta.TraceID)
	return nil
}
