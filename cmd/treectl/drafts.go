package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"triagetree/internal/core"
)

func (c *cli) draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Stage, diff and publish child edits",
	}
	cmd.AddCommand(
		c.draftCreateCmd(), c.draftUpdateCmd(), c.draftShowCmd(), c.draftListCmd(),
		c.draftDiffCmd(), c.draftPublishCmd(), c.draftDeleteCmd(),
	)
	return cmd
}

func (c *cli) draftCreateCmd() *cobra.Command {
	var children []string
	cmd := &cobra.Command{
		Use:   "create <parent-id>",
		Short: "Create a draft of a parent's target children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			targets, err := parseChildSpecs(children)
			if err != nil {
				return err
			}
			d, err := c.svc.CreateDraft(cmd.Context(), core.DraftInput{
				ParentID:       parentID,
				TargetChildren: targets,
				Actor:          c.actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
	addChildFlag(cmd, &children)
	return cmd
}

func (c *cli) draftUpdateCmd() *cobra.Command {
	var children []string
	cmd := &cobra.Command{
		Use:   "update <draft-id>",
		Short: "Replace the target children of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseChildSpecs(children)
			if err != nil {
				return err
			}
			d, err := c.svc.UpdateDraft(cmd.Context(), args[0], targets)
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
	addChildFlag(cmd, &children)
	return cmd
}

func (c *cli) draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.svc.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
}

func (c *cli) draftListCmd() *cobra.Command {
	var parent int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts, optionally for one parent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *int64
			if cmd.Flags().Changed("parent") {
				filter = &parent
			}
			drafts, err := c.svc.ListDrafts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, drafts)
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", 0, "Only drafts of this parent")
	return cmd
}

func (c *cli) draftDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <draft-id>",
		Short: "Show the operations publishing would apply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diff, err := c.svc.CalculateDiff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, diff)
		},
	}
}

func (c *cli) draftPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <draft-id>",
		Short: "Apply a draft to the tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.svc.PublishDraft(cmd.Context(), core.PublishRequest{
				DraftID:         args[0],
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

func (c *cli) draftDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <draft-id>",
		Short: "Discard a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.svc.DeleteDraft(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"id": args[0], "deleted": true})
		},
	}
}

func addChildFlag(cmd *cobra.Command, children *[]string) {
	cmd.Flags().StringArrayVar(children, "child", nil, `Target child as "SLOT:LABEL", "SLOT:LABEL@ID" to keep an existing child, or with a trailing "!" for a leaf; repeatable`)
}

// parseChildSpecs reads "SLOT:LABEL[@ID][!]" entries.
func parseChildSpecs(raw []string) ([]core.ChildSpec, error) {
	out := make([]core.ChildSpec, 0, len(raw))
	for _, entry := range raw {
		slotText, rest, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, usageError{fmt.Errorf("child %q: want SLOT:LABEL", entry)}
		}
		slot, err := strconv.Atoi(strings.TrimSpace(slotText))
		if err != nil {
			return nil, usageError{fmt.Errorf("child %q: invalid slot", entry)}
		}
		spec := core.ChildSpec{Slot: slot}
		if strings.HasSuffix(rest, "!") {
			spec.IsLeaf = true
			rest = strings.TrimSuffix(rest, "!")
		}
		if i := strings.LastIndex(rest, "@"); i >= 0 {
			id, err := parseID(rest[i+1:])
			if err != nil {
				return nil, usageError{fmt.Errorf("child %q: invalid id", entry)}
			}
			spec.ID = &id
			rest = rest[:i]
		}
		spec.Label = rest
		out = append(out, spec)
	}
	return out, nil
}
