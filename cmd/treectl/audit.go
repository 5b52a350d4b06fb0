package main

import (
	"github.com/spf13/cobra"

	"triagetree/internal/core"
)

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit ledger and undo entries",
	}

	var (
		limit     int
		afterID   int64
		operation string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := core.AuditQuery{Limit: limit, Operation: core.AuditOperation(operation)}
			if cmd.Flags().Changed("after") {
				q.AfterID = &afterID
			}
			entries, err := c.svc.AuditEntries(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return")
	list.Flags().Int64Var(&afterID, "after", 0, "Only entries older than this id")
	list.Flags().StringVar(&operation, "op", "", "Only entries of this operation")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate the ledger by operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.svc.AuditStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	undo := &cobra.Command{
		Use:   "undo <audit-id>",
		Short: "Reverse an apply-defaults entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ok, err := c.svc.Undo(cmd.Context(), id, c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"audit_id": id, "undone": ok})
		},
	}

	cmd.AddCommand(list, stats, undo)
	return cmd
}
