package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"spiritcore/internal/core"
)

func newStudyCommand(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "study", Short: "Create studies and phases"}

	var title string
	create := &cobra.Command{
		Use:   "create <code>",
		Short: "Create a study",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			st, err := a.svc.CreateStudy(cmd.Context(), core.Study{StudyID: args[0], Title: title, Owner: o.User})
			if err != nil {
				return err
			}
			a.changed(cmd.Context())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "study %s %s\n", st.StudyID, st.ID)
			return err
		}),
	}
	create.Flags().StringVar(&title, "title", "", "study title")

	phase := &cobra.Command{
		Use:   "phase <study> <name>...",
		Short: "Add phases to a study",
		Args:  cobra.MinimumNArgs(2),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			st, err := a.study(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				p, err := a.svc.CreatePhase(cmd.Context(), core.Phase{StudyID: st.ID, Name: name})
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "phase %s %s\n", p.Name, p.ID); err != nil {
					return err
				}
			}
			a.changed(cmd.Context())
			return nil
		}),
	}

	cmd.AddCommand(create, phase)
	return cmd
}

func newGroupCommand(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Create and list study groups"}

	var (
		name, from, fromPhase, sizes string
	)
	create := &cobra.Command{
		Use:   "create <study> <short-name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(2),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			st, err := a.study(ctx, args[0])
			if err != nil {
				return err
			}
			g := core.Group{StudyID: st.ID, ShortName: args[1], Name: name}
			if g.SubgroupSizes, err = parseSizes(sizes); err != nil {
				return WrapExitError(ExitCommandError, "invalid --sizes", err)
			}
			if from != "" {
				src, err := a.group(ctx, st, from)
				if err != nil {
					return err
				}
				g.FromGroupID = &src.ID
			}
			if fromPhase != "" {
				p, err := a.phase(ctx, st, fromPhase)
				if err != nil {
					return err
				}
				g.FromPhaseID = &p.ID
			}
			created, err := a.svc.CreateGroup(ctx, g)
			if err != nil {
				return err
			}
			a.changed(ctx)
			return printGroups(cmd, []core.Group{created})
		}),
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&from, "from", "", "group this one derives from")
	create.Flags().StringVar(&fromPhase, "from-phase", "", "phase the group starts at")
	create.Flags().StringVar(&sizes, "sizes", "", "comma separated subgroup sizes")

	list := &cobra.Command{
		Use:   "list <study>",
		Short: "List a study's groups",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			st, err := a.study(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			groups, err := a.svc.Groups(cmd.Context(), st.ID)
			if err != nil {
				return err
			}
			return printGroups(cmd, groups)
		}),
	}

	cmd.AddCommand(create, list)
	return cmd
}

func parseSizes(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}

func printGroups(cmd *cobra.Command, groups []core.Group) error {
	for _, g := range groups {
		sizes := make([]string, len(g.SubgroupSizes))
		for i, n := range g.SubgroupSizes {
			sizes[i] = strconv.Itoa(n)
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t[%s]\t%s\n", g.ShortName, g.Name, strings.Join(sizes, ","), g.ID); err != nil {
			return err
		}
	}
	return nil
}
