package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"

	"github.com/ejagojo/KeyWatch/internal/gitx"
	"github.com/ejagojo/KeyWatch/internal/logging"
	"github.com/ejagojo/KeyWatch/internal/output"
	"github.com/ejagojo/KeyWatch/internal/rules"
	"github.com/ejagojo/KeyWatch/internal/scanner"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes
const (
	exitPass       = 0
	exitError      = 1
	exitFindings   = 3
	exitIncomplete = 4
)

var version = "dev" // Set by ldflags

// exitWith is a function that can be replaced in tests
var exitWith = os.Exit

type scanOptions struct {
	file             string
	dir              string
	outputFile       string
	verbose          bool
	outputType       string
	configPath       string
	threads          int
	exclude          []string
	failOnUnreadable bool
	maxDepth         int
	severity         string
	noFail           bool
	debug            bool
}

// cli holds the state of one invocation
type cli struct {
	stdout io.Writer
	stderr io.Writer
	code   int
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keywatch",
		Short:         "Scan files and directories for leaked secrets",
		Long:          `KeyWatch scans source trees for credentials, API tokens, private keys and other secrets using configurable pattern rules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	rootCmd.AddCommand(newScanCmd(c))
	rootCmd.AddCommand(newRulesCmd(c))
	rootCmd.AddCommand(newInitCmd(c))
	return rootCmd
}

func newScanCmd(c *cli) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan (--file PATH | --dir PATH)",
		Short: "Scan a file or directory for secrets",
		Long:  `Scan a single file or walk a directory tree and report every rule match.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runScan(cmd, c, opts)
			if err != nil {
				return err
			}
			c.code = code
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "scan a single file")
	flags.StringVarP(&opts.dir, "dir", "d", "", "scan a directory recursively")
	flags.StringVarP(&opts.outputFile, "output", "o", "", "write the report to this file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print the report to stdout even when --output is set")
	flags.StringVarP(&opts.outputType, "type", "t", "console", "output type (console, json, sarif)")
	flags.StringVarP(&opts.configPath, "config", "c", scanner.DefaultConfigPath(), "path to configuration file (YAML or TOML)")
	flags.IntVar(&opts.threads, "threads", 0, "number of concurrent scanning workers")
	flags.StringArrayVar(&opts.exclude, "exclude", nil, "exclude paths matching this glob (repeatable)")
	flags.BoolVar(&opts.failOnUnreadable, "fail-on-unreadable", false, "abort the scan when a file cannot be read")
	flags.IntVar(&opts.maxDepth, "max-depth", 0, "maximum directory depth to walk (0 for unlimited)")
	flags.StringVar(&opts.severity, "severity", "", "minimum severity that fails the scan")
	flags.BoolVar(&opts.noFail, "no-fail", false, "don't fail on findings")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.MarkFlagsMutuallyExclusive("file", "dir")
	cmd.MarkFlagsOneRequired("file", "dir")
	return cmd
}

func runScan(cmd *cobra.Command, c *cli, opts *scanOptions) (int, error) {
	log, err := logging.New(opts.debug)
	if err != nil {
		return exitError, err
	}
	defer log.Sync() //nolint:errcheck

	outputType, err := output.ParseOutputType(opts.outputType)
	if err != nil {
		return exitError, err
	}

	config, err := loadConfig(opts.configPath, cmd.Flags().Changed("config"), log)
	if err != nil {
		return exitError, err
	}
	config = scanner.MergeConfig(config, map[string]interface{}{
		"threads":            opts.threads,
		"fail-on-unreadable": opts.failOnUnreadable,
		"max-depth":          opts.maxDepth,
		"exclude":            opts.exclude,
		"severity":           opts.severity,
	})
	config.Logger = log

	threshold, err := rules.ParseSeverity(config.SeverityThresh)
	if err != nil {
		return exitError, fmt.Errorf("invalid severity threshold: %w", err)
	}

	rs, err := config.RuleSet()
	if err != nil {
		return exitError, err
	}
	log.Debugw("loaded rules", "count", rs.Len(), "spanning", len(rs.Spanning()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	target := scanner.Target{File: opts.file, Dir: opts.dir}
	result, err := scanner.New(rs, *config).Run(ctx, target)
	if err != nil {
		return exitError, err
	}

	root := target.Dir
	if root == "" {
		root = target.File
	}
	repo, err := gitx.Describe(root)
	if err != nil {
		log.Debugw("no repository context", "path", root, "error", err)
	}

	report := output.NewReport(result, repo)

	if opts.outputFile != "" {
		if err := writeReportFile(report, outputType, opts.outputFile); err != nil {
			return exitError, err
		}
	}
	if opts.outputFile == "" || opts.verbose {
		if err := output.WriteReport(report, outputType, c.stdout); err != nil {
			return exitError, fmt.Errorf("failed to write report: %w", err)
		}
	}

	return exitCode(report, threshold, opts.noFail), nil
}

// exitCode maps a report to the process exit status. Findings take precedence
// over an incomplete scan.
func exitCode(report *output.Report, threshold rules.Severity, noFail bool) int {
	if !noFail && report.HasFindingsAtLeast(threshold) {
		return exitFindings
	}
	if !report.ScanMetadata.Complete {
		return exitIncomplete
	}
	return exitPass
}

func writeReportFile(report *output.Report, outputType output.OutputType, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := output.WriteReport(report, outputType, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// loadConfig reads the configuration file. When the path was not given
// explicitly and the default file does not exist, the embedded defaults are
// used.
func loadConfig(path string, explicit bool, log *zap.SugaredLogger) (*scanner.ScannerConfig, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Debugw("using built-in configuration", "missing", path)
			return scanner.DefaultConfig(), nil
		}
	}
	config, err := scanner.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

func newRulesCmd(c *cli) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the detection rules in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(configPath, cmd.Flags().Changed("config"), zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			rs, err := config.RuleSet()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(c.stdout)
			t.AppendHeader(table.Row{"Name", "Finding Type", "Severity", "Mode"})
			for _, r := range rs.Rules() {
				mode := "line"
				if r.SpansContent {
					mode = "content"
				}
				t.AppendRow(table.Row{r.Name, r.FindingType, r.Severity, mode})
			}
			t.AppendFooter(table.Row{"", "", "Total", rs.Len()})
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", scanner.DefaultConfigPath(), "path to configuration file (YAML or TOML)")
	return cmd
}

func newInitCmd(c *cli) *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := scanner.SaveConfig(scanner.DefaultConfig(), configPath); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Wrote default configuration to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", scanner.DefaultConfigPath(), "path to write the configuration file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// run executes the CLI with args and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	rootCmd := newRootCmd(c)
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return c.code
}

func main() {
	exitWith(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
