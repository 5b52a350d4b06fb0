package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-depths",
		Short: "Recompute depths from the parent chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.svc.RepairDepths(cmd.Context(), c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every node, outcome and draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return usageError{fmt.Errorf("clear removes the whole tree; pass --yes to confirm")}
			}
			res, err := c.svc.ClearWorkspace(cmd.Context(), c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the clear")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the path export and a snapshot to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exp, err := c.exporter(cmd.Context())
			if err != nil {
				return err
			}
			m, err := exp.Run(cmd.Context(), c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List completed export runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exp, err := c.exporter(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := exp.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []string{}
			}
			return printJSON(cmd, runs)
		},
	}

	var withPaths bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the manifest of an export run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := c.exporter(cmd.Context())
			if err != nil {
				return err
			}
			m, err := exp.Manifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !withPaths {
				return printJSON(cmd, m)
			}
			paths, err := exp.ReadPaths(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"manifest": m, "paths": paths})
		},
	}
	show.Flags().BoolVar(&withPaths, "paths", false, "Include the exported path records")

	cmd.AddCommand(list, show)
	return cmd
}
