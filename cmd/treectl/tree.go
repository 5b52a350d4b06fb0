package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"triagetree/internal/core"
)

func (c *cli) createRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-root <label>",
		Short: "Create a root node unless one with the label exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.svc.CreateRootIfMissing(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"id": id})
		},
	}
}

func (c *cli) addChildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-child <parent-id> <label>",
		Short: "Find or create a child in the first free slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			depth, _ := cmd.Flags().GetInt("depth")
			if !cmd.Flags().Changed("depth") {
				parent, err := c.svc.GetNode(cmd.Context(), parentID)
				if err != nil {
					return err
				}
				depth = parent.Depth + 1
			}
			res, err := c.svc.FindOrCreateChild(cmd.Context(), parentID, args[1], depth)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Int("depth", 0, "Depth of the child (default parent depth + 1)")
	return cmd
}

func (c *cli) putSlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put-slot <parent-id> <slot> <label>",
		Short: "Write a label into one slot of a parent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			slot, err := strconv.Atoi(args[1])
			if err != nil {
				return usageError{err}
			}
			res, err := c.svc.PutSlot(cmd.Context(), core.PutSlotRequest{
				ParentID:        parentID,
				Slot:            slot,
				Label:           args[2],
				Actor:           c.actor,
				ExpectedVersion: expectedVersion(cmd),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addExpectedFlag(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete a node and its whole subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := c.svc.DeleteSubtree(cmd.Context(), id, c.actor, expectedVersion(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addExpectedFlag(cmd)
	return cmd
}

func (c *cli) nodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "node <node-id>",
		Short: "Show one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			n, err := c.svc.GetNode(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, n)
		},
	}
}

func (c *cli) childrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <parent-id>",
		Short: "List the children of a parent in slot order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			nodes, err := c.svc.ListChildren(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, nodes)
		},
	}
}

func (c *cli) freeSlotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free-slot <parent-id>",
		Short: "Report the lowest free slot of a parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			slot, ok, err := c.svc.FirstFreeSlot(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"slot": slot, "available": ok})
		},
	}
}

func (c *cli) pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <root-label> [label...]",
		Short: "Follow a label path from a root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.svc.PathLookup(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (c *cli) rootsCmd() *cobra.Command {
	var filter core.NodeFilter
	cmd := &cobra.Command{
		Use:   "roots",
		Short: "List root nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filterDepth(cmd, &filter)
			res, err := c.svc.ListRoots(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFilterFlags(cmd, &filter)
	return cmd
}

func (c *cli) parentsCmd() *cobra.Command {
	var filter core.NodeFilter
	cmd := &cobra.Command{
		Use:   "parents",
		Short: "List parents with child counts and missing slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filterDepth(cmd, &filter)
			res, err := c.svc.ListParents(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFilterFlags(cmd, &filter)
	return cmd
}

func (c *cli) leavesCmd() *cobra.Command {
	var filter core.NodeFilter
	cmd := &cobra.Command{
		Use:   "leaves",
		Short: "List leaves and whether they carry an outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filterDepth(cmd, &filter)
			res, err := c.svc.ListLeaves(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFilterFlags(cmd, &filter)
	return cmd
}

func (c *cli) missingSlotsCmd() *cobra.Command {
	var filter core.NodeFilter
	cmd := &cobra.Command{
		Use:   "missing-slots",
		Short: "List parents with fewer than five children",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filterDepth(cmd, &filter)
			res, err := c.svc.MissingSlots(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFilterFlags(cmd, &filter)
	return cmd
}

func (c *cli) labelsCmd() *cobra.Command {
	var filter core.NodeFilter
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Aggregate label occurrences across the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filterDepth(cmd, &filter)
			res, err := c.svc.AggregateLabels(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFilterFlags(cmd, &filter)
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version <node-id>",
		Short: "Show the optimistic-concurrency version of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			v, ok, err := c.svc.GetVersion(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(cmd, map[string]any{"id": id, "found": false})
			}
			etag, err := c.svc.ResourceETag(cmd.Context(), core.NodeETagKey(id), func(ctx context.Context) (any, error) {
				return c.svc.ListChildren(ctx, id)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"id": v.ID, "version": v.Version, "updated_at": v.UpdatedAt, "etag": etag, "found": true})
		},
	}
}

func (c *cli) checkVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-version <node-id> <if-match>",
		Short: "Check an If-Match style header against a node version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			expected, ok := core.ValidateConditionalHeader(args[1])
			if !ok {
				return usageError{fmt.Errorf("invalid conditional header %q", args[1])}
			}
			match, current, err := c.svc.CheckVersionMatch(cmd.Context(), id, &expected)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"match": match, "expected": expected, "current": current})
		},
	}
}

func (c *cli) outcomeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Read or write the outcome of a leaf",
	}
	var in core.OutcomeInput
	set := &cobra.Command{
		Use:   "set <node-id>",
		Short: "Write the triage fields of a leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			in.NodeID = id
			in.Actor = c.actor
			out, err := c.svc.PutOutcome(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	set.Flags().StringVar(&in.DiagnosticTriage, "triage", "", "Diagnostic triage text")
	set.Flags().StringVar(&in.Actions, "actions", "", "Recommended actions")
	get := &cobra.Command{
		Use:   "get <node-id>",
		Short: "Show the outcome of a leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			out, ok, err := c.svc.GetOutcome(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(cmd, nil)
			}
			return printJSON(cmd, out)
		},
	}
	cmd.AddCommand(set, get)
	return cmd
}
