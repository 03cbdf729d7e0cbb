package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"spiritcore/internal/core"
)

func newMergeCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <study> <target> <source>...",
		Short: "Merge groups into target, appending their subgroups",
		Args:  cobra.MinimumNArgs(3),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			st, err := a.study(ctx, args[0])
			if err != nil {
				return err
			}
			ids, err := groupIDs(cmd, a, st, args[1:])
			if err != nil {
				return err
			}
			merged, err := a.svc.Merge(ctx, a.session, ids[0], ids[1:])
			if err != nil {
				return err
			}
			a.changed(ctx)
			return printGroups(cmd, []core.Group{merged})
		}),
	}
}

func newSplitCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "split <study> <group>",
		Short: "Split each subgroup of a group into its own group",
		Args:  cobra.ExactArgs(2),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			st, err := a.study(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := a.group(ctx, st, args[1])
			if err != nil {
				return err
			}
			parts, err := a.svc.Split(ctx, a.session, g.ID)
			if err != nil {
				return err
			}
			a.changed(ctx)
			return printGroups(cmd, parts)
		}),
	}
}

func newDuplicateCommand(o *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <study> <group>...",
		Short: "Copy group definitions and their actions under new short names",
		Args:  cobra.MinimumNArgs(2),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			st, err := a.study(ctx, args[0])
			if err != nil {
				return err
			}
			ids, err := groupIDs(cmd, a, st, args[1:])
			if err != nil {
				return err
			}
			copies, err := a.svc.Duplicate(ctx, a.session, ids)
			if err != nil {
				return err
			}
			a.changed(ctx)
			return printGroups(cmd, copies)
		}),
	}
}

func newSubgroupCommand(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subgroup",
		Short: "Edit the subgroups of a group (indices are 1-based)",
	}
	edit := func(use, short string, nargs int, fn func(cmd *cobra.Command, a *app, g core.Group, rest []string) (core.Group, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
				ctx := cmd.Context()
				st, err := a.study(ctx, args[0])
				if err != nil {
					return err
				}
				g, err := a.group(ctx, st, args[1])
				if err != nil {
					return err
				}
				updated, err := fn(cmd, a, g, args[2:])
				if err != nil {
					return err
				}
				a.changed(ctx)
				return printGroups(cmd, []core.Group{updated})
			}),
		}
	}
	cmd.AddCommand(
		edit("add <study> <group>", "Append an empty subgroup", 2,
			func(cmd *cobra.Command, a *app, g core.Group, _ []string) (core.Group, error) {
				return a.svc.AddSubgroup(cmd.Context(), a.session, g.ID)
			}),
		edit("remove <study> <group> <index>", "Remove an unoccupied subgroup", 3,
			func(cmd *cobra.Command, a *app, g core.Group, rest []string) (core.Group, error) {
				index, err := subgroupIndex(rest[0])
				if err != nil {
					return core.Group{}, err
				}
				return a.svc.RemoveSubgroup(cmd.Context(), a.session, g.ID, index)
			}),
		edit("up <study> <group> <index>", "Swap a subgroup with the one before it", 3,
			func(cmd *cobra.Command, a *app, g core.Group, rest []string) (core.Group, error) {
				index, err := subgroupIndex(rest[0])
				if err != nil {
					return core.Group{}, err
				}
				return a.svc.MoveSubgroupUp(cmd.Context(), a.session, g.ID, index)
			}),
		edit("sizes <study> <group> <sizes>", "Set the subgroup sizes, e.g. 3,3,2", 3,
			func(cmd *cobra.Command, a *app, g core.Group, rest []string) (core.Group, error) {
				sizes, err := parseSizes(rest[0])
				if err != nil {
					return core.Group{}, WrapExitError(ExitCommandError, "invalid sizes", err)
				}
				return a.svc.SetSubgroupSizes(cmd.Context(), a.session, g.ID, sizes)
			}),
	)
	return cmd
}

func groupIDs(cmd *cobra.Command, a *app, st core.Study, refs []string) ([]string, error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		g, err := a.group(cmd.Context(), st, ref)
		if err != nil {
			return nil, err
		}
		ids[i] = g.ID
	}
	return ids, nil
}

func subgroupIndex(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, WrapExitError(ExitCommandError, "subgroup index must be a positive number", err)
	}
	return n - 1, nil
}
