// Package cli implements the varianthunter command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

// NewRootCommand builds the varianthunter command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "varianthunter",
		Short: "Session manager for mutation prevalence analyses",
		Long: `varianthunter keeps a history of mutation prevalence analyses, their
filter and sort configuration and shared tags, and persists the session
between runs. Configuration comes from an optional YAML file and
VARIANTHUNTER_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (YAML)")

	root.AddCommand(
		newServeCommand(opts),
		newImportCommand(opts),
		newListCommand(opts),
		newPlotCommand(opts),
		newLineagesCommand(),
		newExportCommand(opts),
		newDoCommand(opts),
		newClearCommand(opts),
		newResetCommand(opts),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// withApp opens the application for the duration of fn and always closes it,
// so pending session changes are written before the process exits.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts.configFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
