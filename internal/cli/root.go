// Package cli implements the spiritctl command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spiritcore/internal/blob"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	User       string
	Yes        bool
	Verbose    bool
	Trace      bool
	Archive    bool

	blobs  blob.Store
	logger *zap.Logger
}

// Option adjusts the command tree, mainly for tests.
type Option func(*RootOptions)

// WithBlobStore uses store for snapshot archives instead of the configured backend.
func WithBlobStore(store blob.Store) Option {
	return func(o *RootOptions) { o.blobs = store }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *RootOptions) { o.logger = logger }
}

// NewRootCommand creates the root spiritctl command.
func NewRootCommand(opts ...Option) *cobra.Command {
	o := &RootOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cmd := &cobra.Command{
		Use:   "spiritctl",
		Short: "Assign biosamples to study groups and restructure groups",
		Long: `spiritctl edits the participants and group layout of preclinical studies.

Every command runs as one transaction against the configured store
(SPIRIT_STORAGE_DRIVER). Changes that overwrite existing data ask for
confirmation on stdin unless --yes is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", "", "YAML configuration file (environment only when empty)")
	cmd.PersistentFlags().StringVarP(&o.User, "user", "u", currentUser(), "user the changes are made as")
	cmd.PersistentFlags().BoolVarP(&o.Yes, "yes", "y", false, "answer yes to every confirmation")
	cmd.PersistentFlags().BoolVarP(&o.Verbose, "verbose", "v", false, "log collected metrics on exit")
	cmd.PersistentFlags().BoolVar(&o.Trace, "trace", false, "write operation spans as JSON lines to stderr")
	cmd.PersistentFlags().BoolVar(&o.Archive, "archive", false, "archive a snapshot after every successful change")

	cmd.AddCommand(newStudyCommand(o))
	cmd.AddCommand(newGroupCommand(o))
	cmd.AddCommand(newAttachCommand(o))
	cmd.AddCommand(newMergeCommand(o))
	cmd.AddCommand(newSplitCommand(o))
	cmd.AddCommand(newDuplicateCommand(o))
	cmd.AddCommand(newSubgroupCommand(o))
	cmd.AddCommand(newSnapshotCommand(o))

	return cmd
}

// withApp opens the application for the duration of one command.
func (o *RootOptions) withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := openApp(ctx, o, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return WrapExitError(ExitCommandError, "open spiritcore", err)
		}
		defer func() {
			if cerr := a.close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, a, args)
	}
}

func currentUser() string {
	for _, key := range []string{"SPIRIT_USER", "USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "spiritctl"
}

