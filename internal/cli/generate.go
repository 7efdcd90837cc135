package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/offgrid-build/srcgen/pkg/generator"
	cargogen "github.com/offgrid-build/srcgen/pkg/generator/cargo"
	cpangen "github.com/offgrid-build/srcgen/pkg/generator/cpan"
	denogen "github.com/offgrid-build/srcgen/pkg/generator/deno"
	gomodgen "github.com/offgrid-build/srcgen/pkg/generator/gomod"
	gradlegen "github.com/offgrid-build/srcgen/pkg/generator/gradle"
	mavengen "github.com/offgrid-build/srcgen/pkg/generator/maven"
	npmgen "github.com/offgrid-build/srcgen/pkg/generator/npm"
	pipgen "github.com/offgrid-build/srcgen/pkg/generator/pip"
	poetrygen "github.com/offgrid-build/srcgen/pkg/generator/poetry"
	yarngen "github.com/offgrid-build/srcgen/pkg/generator/yarn"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry"
	"github.com/offgrid-build/srcgen/pkg/registry/jsr"
	"github.com/offgrid-build/srcgen/pkg/registry/metacpan"
	npmreg "github.com/offgrid-build/srcgen/pkg/registry/npm"
	"github.com/offgrid-build/srcgen/pkg/registry/pypi"
)

// defaultOutput is the output filename most ecosystems share.
const defaultOutput = "generated-sources.json"

// defaultCacheTTL is how long registry responses stay valid in the cache.
const defaultCacheTTL = 24 * time.Hour

// generateOpts holds the flags shared by every conversion command.
type generateOpts struct {
	output    string
	format    string
	refresh   bool
	jobs      int
	splitSize int

	cacheBackend string
	cacheDir     string
	redisURL     string
	mongoURL     string
}

func (o *generateOpts) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.output, "output", "o", "", "output file (ecosystem default if empty)")
	fs.StringVar(&o.format, "format", "json", "output format (json|yaml)")
	fs.BoolVar(&o.refresh, "refresh", false, "bypass cached registry responses")
	fs.IntVar(&o.jobs, "jobs", 0, "maximum concurrent registry fetches")
	fs.IntVar(&o.splitSize, "split-size", 0, "split output across files of roughly this many bytes")
	fs.StringVar(&o.cacheBackend, "cache-backend", "file", "response cache backend (file|redis|mongo|none)")
	fs.StringVar(&o.cacheDir, "cache-dir", "", "file cache directory (XDG default if empty)")
	fs.StringVar(&o.redisURL, "redis-url", "redis://localhost:6379", "redis URL for --cache-backend=redis")
	fs.StringVar(&o.mongoURL, "mongo-url", "mongodb://localhost:27017", "mongodb URI for --cache-backend=mongo")
}

// newRegistryClient builds the shared HTTP client on top of the selected
// cache backend. The returned cleanup closes the backend.
func (o *generateOpts) newRegistryClient(ctx context.Context) (*registry.Client, func(), error) {
	store, err := newStore(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	client := registry.NewClient(store, defaultCacheTTL, nil)
	client.Refresh = o.refresh
	return client, func() { _ = store.Close() }, nil
}

// runGenerate executes one conversion end to end: resolve, then write.
func runGenerate(ctx context.Context, gen generator.Generator, path string, opts *generateOpts, genOpts generator.Options, fallbackOutput string) error {
	logger := loggerFromContext(ctx)
	genOpts.Jobs = opts.jobs
	genOpts.Logf = logger.Debugf

	prog := newProgress(logger)
	var spin *Spinner
	if logger.GetLevel() > charmlog.DebugLevel && isTerminal(os.Stderr) {
		spin = newSpinnerWithContext(ctx, fmt.Sprintf("Converting %s", path))
		spin.Start()
	}
	sources, err := gen.Generate(ctx, path, genOpts)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		printError("Conversion failed")
		return err
	}
	prog.done(fmt.Sprintf("Resolved %d entries", len(sources)))

	return writeManifest(sources, opts, fallbackOutput)
}

func writeManifest(sources []manifest.Source, opts *generateOpts, fallbackOutput string) error {
	output := opts.output
	if output == "" {
		output = fallbackOutput
	}
	w := manifest.Writer{Format: manifest.Format(opts.format), SplitSize: opts.splitSize}
	written, err := w.Write(output, sources)
	if err != nil {
		return err
	}
	printSuccess("Wrote %d entries", len(sources))
	for _, f := range written {
		printFile(f)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func newNpmCmd(opts *generateOpts) *cobra.Command {
	var production, recursive bool
	cmd := &cobra.Command{
		Use:   "npm <package-lock.json>",
		Short: "Convert an npm package-lock.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := npmgen.New(npmreg.NewClient(client))
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{
				Production: production,
				Recursive:  recursive,
			}, defaultOutput)
		},
	}
	cmd.Flags().BoolVar(&production, "production", false, "skip development dependencies")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "scan the directory tree for nested lockfiles")
	return cmd
}

func newYarnCmd(opts *generateOpts) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "yarn <yarn.lock>",
		Short: "Convert a yarn v1 lockfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runGenerate(c.Context(), yarngen.New(), args[0], opts, generator.Options{
				Recursive: recursive,
			}, defaultOutput)
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "scan the directory tree for nested lockfiles")
	return cmd
}

func newCargoCmd(opts *generateOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cargo <Cargo.lock>",
		Short: "Convert a Cargo.lock into a vendored crates manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runGenerate(c.Context(), cargogen.New(), args[0], opts, generator.Options{}, defaultOutput)
		},
	}
}

func newPoetryCmd(opts *generateOpts) *cobra.Command {
	var production bool
	cmd := &cobra.Command{
		Use:   "poetry <poetry.lock>",
		Short: "Convert a poetry.lock via PyPI",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := poetrygen.New(pypi.NewClient(client))
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{
				Production: production,
			}, "generated-poetry-sources.json")
		},
	}
	cmd.Flags().BoolVar(&production, "production", false, "skip development dependencies")
	return cmd
}

func newPipCmd(opts *generateOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "pip <requirements.txt>",
		Short: "Convert a pinned requirements.txt via PyPI",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := pipgen.New(pypi.NewClient(client))
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{}, defaultOutput)
		},
	}
}

func newGomodCmd(opts *generateOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "gomod <vendor/modules.txt>",
		Short: "Convert a Go vendor manifest into git checkout entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runGenerate(c.Context(), gomodgen.New(), args[0], opts, generator.Options{}, defaultOutput)
		},
	}
}

func newMavenCmd(opts *generateOpts) *cobra.Command {
	var repos []string
	cmd := &cobra.Command{
		Use:   "maven <group:artifact:version[:classifier]>...",
		Short: "Resolve Maven coordinates into a local-repository manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			logger := loggerFromContext(c.Context())
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			prog := newProgress(logger)
			sources, err := mavengen.New(client).Convert(c.Context(), args, generator.Options{
				Repos: repos,
				Jobs:  opts.jobs,
				Logf:  logger.Debugf,
			})
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Resolved %d entries", len(sources)))
			return writeManifest(sources, opts, "maven-sources.json")
		},
	}
	cmd.Flags().StringArrayVar(&repos, "repo", nil, "artifact repository URL, first match wins (default Maven Central)")
	return cmd
}

func newGradleCmd(opts *generateOpts) *cobra.Command {
	var arches []string
	var destDir string
	cmd := &cobra.Command{
		Use:   "gradle <build.log>",
		Short: "Scrape a gradle --info log for artifact downloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := gradlegen.New(client)
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{
				Arches:  arches,
				DestDir: destDir,
			}, "gradle-sources.json")
		},
	}
	cmd.Flags().StringSliceVar(&arches, "arches", gradlegen.DefaultArches, "architectures to expand native launchers for")
	cmd.Flags().StringVar(&destDir, "destdir", "", "destination directory for downloaded artifacts")
	return cmd
}

func newDenoCmd(opts *generateOpts) *cobra.Command {
	var compatPaths string
	cmd := &cobra.Command{
		Use:   "deno <deno.lock>",
		Short: "Convert a deno.lock into a vendored module manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			compat := generator.CompatPaths(compatPaths)
			if compat != generator.CompatBoth && compat != generator.CompatPrimary {
				return fmt.Errorf("invalid --compat-paths value %q (want both or primary)", compatPaths)
			}
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := denogen.New(jsr.NewClient(client))
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{
				CompatPaths: compat,
			}, defaultOutput)
		},
	}
	cmd.Flags().StringVar(&compatPaths, "compat-paths", string(generator.CompatBoth), "npm compatibility layout: both or primary")
	return cmd
}

func newCpanCmd(opts *generateOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cpan <cpanfile.snapshot>",
		Short: "Convert a carton snapshot via MetaCPAN",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, cleanup, err := opts.newRegistryClient(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			gen := cpangen.New(metacpan.NewClient(client))
			return runGenerate(c.Context(), gen, args[0], opts, generator.Options{}, defaultOutput)
		},
	}
}
