package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"spiritcore/internal/archive"
)

func newSnapshotCommand(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Archive and restore the committed store state"}

	export := &cobra.Command{
		Use:   "export",
		Short: "Archive the current state",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			src, err := archiveSource(a)
			if err != nil {
				return err
			}
			info, err := a.archiver.Export(cmd.Context(), src)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), info.Key)
			return err
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archives, oldest first",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			infos, err := a.archiver.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", info.Key, info.Size); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	restore := &cobra.Command{
		Use:   "restore [key]",
		Short: "Replace the current state with an archive (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			src, err := archiveSource(a)
			if err != nil {
				return err
			}
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				latest, err := a.archiver.Latest(ctx)
				if err != nil {
					return err
				}
				key = latest.Key
			}
			if !a.session.Confirmer.Confirm(ctx, fmt.Sprintf("Replace the current state with %s?", key)) {
				return WrapExitError(ExitFailure, "restore cancelled", nil)
			}
			if err := a.archiver.Restore(ctx, key, src); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", key)
			return err
		}),
	}

	cmd.AddCommand(export, list, restore)
	return cmd
}

func archiveSource(a *app) (archive.Source, error) {
	src, ok := a.store.(archive.Source)
	if !ok {
		return nil, WrapExitError(ExitCommandError, "snapshot", errors.New("store "+a.cfg.Storage.Driver+" does not support snapshots"))
	}
	return src, nil
}
