package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"taskportal/internal/printer"
	"taskportal/internal/service/dedup"
	"taskportal/internal/shard"
)

func newDedupCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Find and resolve duplicate tasks",
	}
	cmd.AddCommand(newDedupScanCmd(flags), newDedupRunCmd(flags))
	return cmd
}

func newDedupScanCmd(flags *globalFlags) *cobra.Command {
	var (
		tableRef       string
		key            string
		includeDeleted bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List duplicate groups in one table (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
				table, err := shard.ResolveTable(tableRef)
				if err != nil {
					return p.Error("invalid --table", err)
				}
				groupKey := a.defaults.GroupKey
				if cmd.Flags().Changed("key") {
					if groupKey, err = dedup.ParseGroupKey(key); err != nil {
						return p.Error("invalid --key", err)
					}
				}
				groups, err := a.maintenance.Detector().FindDuplicates(ctx, table, groupKey, includeDeleted)
				if err != nil {
					return p.Error("scan failed", err)
				}
				p.Groups(table.Name(), groups)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tableRef, "table", "global", `"global" or a project id`)
	cmd.Flags().StringVar(&key, "key", "title", "group key: title, title_project or original")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted rows")
	return cmd
}

func newDedupRunCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun         bool
		hard           bool
		strategy       string
		key            string
		includeDeleted bool
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every table and resolve duplicate groups",
		Long: `Scans the global task table and every project task table. With
--dry-run=false each group keeps one survivor; children of the other rows
are re-parented onto it before they are disposed of.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app, p *printer.Printer) error {
				opts := a.defaults
				opts.IncludeDeleted = includeDeleted
				if cmd.Flags().Changed("dry-run") {
					opts.DryRun = dryRun
				}
				if hard {
					opts.Disposition = dedup.DispositionHard
				}
				var err error
				if cmd.Flags().Changed("strategy") {
					if opts.Strategy, err = dedup.ParseStrategy(strategy); err != nil {
						return p.Error("invalid --strategy", err)
					}
				}
				if cmd.Flags().Changed("key") {
					if opts.GroupKey, err = dedup.ParseGroupKey(key); err != nil {
						return p.Error("invalid --key", err)
					}
				}

				report, err := a.maintenance.Run(ctx, opts)
				if err != nil {
					return p.Error("maintenance run failed", err)
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				p.Report(report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report only, change nothing")
	cmd.Flags().BoolVar(&hard, "hard", false, "hard-delete losers instead of soft-deleting")
	cmd.Flags().StringVar(&strategy, "strategy", "most_recently_updated", "survivor: most_recently_updated or oldest_created")
	cmd.Flags().StringVar(&key, "key", "title_project", "group key: title, title_project or original")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
