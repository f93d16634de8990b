package cli

import (
	"runtime/debug"

	"unremark/internal/shared/version"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./unremark.toml"

const rootLongDescription = `unremark finds comments that only restate the code next to them.

Each comment is scored by a local heuristic; uncertain ones are sent to an
LLM judge. With --fix the redundant comments are removed in place, and every
rewrite is re-parsed to make sure no code changed.`

type cliOptions struct {
	configPath  string
	fix         bool
	json        bool
	diff        bool
	format      string
	ignore      []string
	exclude     []string
	noJudge     bool
	workers     int
	metricsAddr string
	logFile     string
	verbose     bool
	args        []string
}

func newRootCmd(opts *cliOptions, run func(cmd *cobra.Command, opts *cliOptions) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "unremark [paths...]",
		Short:         "Detect and remove redundant source comments",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.args = args
			return run(cmd, opts)
		},
	}
	configureRootFlags(cmd, opts)
	return cmd
}

func configureRootFlags(cmd *cobra.Command, opts *cliOptions) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to config file")
	pf.StringSliceVar(&opts.ignore, "ignore", nil, "additional directory names or globs to skip (comma-separated)")
	pf.StringSliceVarP(&opts.exclude, "exclude", "x", nil, "file name globs to skip (comma-separated)")
	pf.BoolVar(&opts.noJudge, "no-judge", false, "classify with the heuristic only")
	pf.IntVar(&opts.workers, "workers", 0, "parse/classify workers (default: config or CPU count)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	pf.StringVar(&opts.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	f := cmd.Flags()
	f.BoolVar(&opts.fix, "fix", false, "remove redundant comments in place")
	f.StringVarP(&opts.format, "format", "f", "text", "output format: text, json, sarif, markdown or diff")
	f.BoolVar(&opts.json, "json", false, "shorthand for --format json")
	f.BoolVar(&opts.diff, "diff", false, "print a unified diff of the fixes instead of writing them")
}

func newWatchCmd(opts *cliOptions, run func(cmd *cobra.Command, opts *cliOptions) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Re-analyze files as they change",
		Long: `Watch the given paths and re-analyze every changed source file after a
short debounce. With --fix, redundant comments are removed as files are saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.args = args
			return run(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fix, "fix", false, "remove redundant comments as files change")
	return cmd
}

func newHealthCmd(opts *cliOptions, run func(cmd *cobra.Command, opts *cliOptions) error) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check grammars, judge and verdict store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("unremark version\t", version.Version)
			if info, ok := debug.ReadBuildInfo(); ok {
				cmd.Println("go version\t", info.GoVersion)
			}
		},
	}
}
