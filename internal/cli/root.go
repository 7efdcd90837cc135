package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version string // semantic version (e.g., "v1.2.3")
	commit  string // git commit SHA
	date    string // build timestamp
)

// SetVersion sets the version information displayed by --version. This is
// typically called by the main package with values injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the srcgen CLI and returns an error if any command fails.
//
// The root command carries one subcommand per supported ecosystem plus the
// cache management commands. Logging defaults to info level on stderr;
// --verbose (-v) switches to debug level. The logger is attached to the
// context and accessible to all commands via loggerFromContext.
func Execute(ctx context.Context) error {
	var verbose bool
	opts := &generateOpts{}

	root := &cobra.Command{
		Use:          "srcgen",
		Short:        "srcgen turns lockfiles into offline build manifests",
		Long:         `srcgen converts dependency lockfiles (npm, yarn, cargo, poetry, pip, go vendor trees, maven, gradle, deno, cpan) into manifests of download instructions that an offline, sandboxed build can replay.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := withLogger(cmd.Context(), newLogger(os.Stderr, level))
			cmd.SetContext(ctx)
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("srcgen %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	opts.register(root.PersistentFlags())

	root.AddCommand(newNpmCmd(opts))
	root.AddCommand(newYarnCmd(opts))
	root.AddCommand(newCargoCmd(opts))
	root.AddCommand(newPoetryCmd(opts))
	root.AddCommand(newPipCmd(opts))
	root.AddCommand(newGomodCmd(opts))
	root.AddCommand(newMavenCmd(opts))
	root.AddCommand(newGradleCmd(opts))
	root.AddCommand(newDenoCmd(opts))
	root.AddCommand(newCpanCmd(opts))
	root.AddCommand(newCacheCmd())

	return root.ExecuteContext(ctx)
}
