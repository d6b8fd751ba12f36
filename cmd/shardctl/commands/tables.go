package commands

import (
	"context"

	"github.com/spf13/cobra"

	"taskportal/internal/printer"
)

func newTablesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Provision, inspect and tear down project tables",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ensure <project-id>",
			Short: "Create the project's task and stage tables if missing",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
					key, err := a.tables.EnsureProjectTables(ctx, args[0])
					if err != nil {
						return p.Error("ensure failed", err)
					}
					p.Success("%s ready: %s, %s", key.ProjectID(), key.Tasks().Name(), key.Stages().Name())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <project-id>",
			Short: "Show the project's tables",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
					pt, err := a.tables.ResolveProjectTables(ctx, args[0])
					if err != nil {
						return p.Error("lookup failed", err)
					}
					p.Info("tasks:  %s", pt.Tasks.Name())
					p.Info("stages: %s", pt.Stages.Name())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List projects with provisioned tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
					keys, err := a.tables.ListProvisioned(ctx)
					if err != nil {
						return p.Error("list failed", err)
					}
					p.Tables(keys)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "teardown <project-id>",
			Short: "Revoke grants and drop the project's tables",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
					if err := a.tables.TeardownProject(ctx, args[0]); err != nil {
						return p.Error("teardown failed", err)
					}
					p.Success("%s torn down", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func newSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <project-id> <task-id>...",
		Short: "Copy global tasks and default stages into the project's tables",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
				res, err := a.tables.SeedProjectFromGlobal(ctx, args[0], args[1:])
				if err != nil {
					return p.Error("seed failed", err)
				}
				p.Success("inserted %d, updated %d, stages copied %d", res.Inserted, res.Updated, res.StagesCopied)
				for _, id := range res.Missing {
					p.Warning("task %s not found in global table", id)
				}
				return nil
			})
		},
	}
}

func newStagesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Project stage maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync <project-id>",
		Short: "Point project task stage ids at the project's own stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
				res, err := a.tables.SyncStageIDs(ctx, args[0])
				if err != nil {
					return p.Error("stage sync failed", err)
				}
				p.Success("updated %d, already synced %d", res.Updated, res.AlreadySynced)
				for _, id := range res.Unmatched {
					p.Warning("task %s: stage has no project counterpart", id)
				}
				return nil
			})
		},
	})
	return cmd
}
