package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/island/internal/config"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	Schema bool
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after unifying --config with the schema
defaults, as CUE (or JSON with --format json). With --schema the schema
itself is printed.

Examples:
  island config
  island config --config island.cue --format json
  island config --schema`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if opts.Schema {
				fmt.Fprint(w, config.Schema())
				return nil
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var src []byte
			if opts.Format != "json" {
				if src, err = config.Format(cfg); err != nil {
					return WrapExitError(ExitCommandError, "failed to format config", err)
				}
			}
			return newFormatter(cmd, opts.RootOptions).Success(cfg, func(w io.Writer) {
				w.Write(src)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Schema, "schema", false, "print the CUE schema")

	return cmd
}
