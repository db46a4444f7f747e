package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jobtracing/dbresolve/internal/collections"
	"github.com/jobtracing/dbresolve/internal/dnscheck"
	"github.com/jobtracing/dbresolve/internal/logger"
	"github.com/jobtracing/dbresolve/internal/output"
	"github.com/jobtracing/dbresolve/internal/progress"
	"github.com/jobtracing/dbresolve/internal/shutdown"
	"github.com/jobtracing/dbresolve/internal/state"
	"github.com/jobtracing/dbresolve/pkg/dbresolve"
)

var (
	version = "1.0.0"

	// Global flags
	configFile     string
	envFile        string
	format         string
	outputFile     string
	pretty         bool
	stream         bool
	verbose        bool
	debug          bool
	metricsFile    string
	historyFile    string
	historyBackend string

	// Resolve flags
	aliases      []string
	timeout      time.Duration
	maxAttempts  int
	deadline     time.Duration
	retries      int
	retryDelay   time.Duration
	noPrune      bool
	rateLimit    float64
	lenient      bool
	showProgress bool

	// Prepare flags
	collectionNames []string
	listOnly        bool

	// History flags
	historyLimit int
)

// exitCode is set by commands that finish without a Go error but still
// need a non-zero status.
var exitCode int

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, dbresolve.ErrMalformed) {
			os.Exit(exitMalformed)
		}
		os.Exit(exitExhausted)
	}
	os.Exit(exitCode)
}

// newRootCmd builds the command tree. Flags bind to the package globals.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbresolve [uri]",
		Short: "dbresolve - MongoDB endpoint resolution",
		Long: `dbresolve - Find a working MongoDB connection string.

Tries the configured URI, then scheme flips, host aliases, relaxed
credentials and a local server, and reports the first one that answers.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runResolve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Resolve command
	resolveCmd := &cobra.Command{
		Use:   "resolve [uri]",
		Short: "Resolve a working connection string",
		Long:  "Probe candidate connection strings in order and report the first that connects.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runResolve,
	}

	// Plan command
	planCmd := &cobra.Command{
		Use:   "plan [uri]",
		Short: "Show the candidate order without probing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPlan,
	}

	// Diagnose command
	diagnoseCmd := &cobra.Command{
		Use:   "diagnose [uri]",
		Short: "Run DNS checks for the connection string",
		Long:  "Look up the hosts (and SRV record, if any) of the connection string and show the resolver configuration.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDiagnose,
	}

	// Prepare command
	prepareCmd := &cobra.Command{
		Use:   "prepare [uri]",
		Short: "Resolve, then create the application's collections",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPrepare,
	}

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show past resolutions",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file to read (ignored if missing)")
	pf.StringVarP(&format, "format", "f", output.FormatText, "Output format (text, json, yaml)")
	pf.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	pf.BoolVar(&pretty, "pretty", true, "Indent JSON output")
	pf.BoolVar(&stream, "stream", false, "Write each attempt as it finishes")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&debug, "debug", false, "Debug mode")
	pf.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus textfile metrics here")
	pf.StringVar(&historyFile, "history", "", "Record resolutions in this file")
	pf.StringVar(&historyBackend, "history-backend", state.BackendBolt,
		"History store ("+strings.Join(state.Backends, ", ")+")")

	// Resolve flags, shared by every command that resolves
	for _, cmd := range []*cobra.Command{rootCmd, resolveCmd, planCmd, prepareCmd, diagnoseCmd} {
		f := cmd.Flags()
		f.StringArrayVarP(&aliases, "alias", "a", nil, "Host alias to try (repeatable)")
		f.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Per-attempt timeout")
		f.IntVar(&maxAttempts, "max-attempts", 0, "Maximum probes per pass (0 = all)")
		f.DurationVar(&deadline, "deadline", 0, "Bound on the whole resolution (0 = none)")
		f.IntVar(&retries, "retries", 1, "Whole-pass attempts")
		f.DurationVar(&retryDelay, "retry-delay", 2*time.Second, "Delay between passes")
		f.BoolVar(&noPrune, "no-prune", false, "Probe credential variants of unresolvable hosts")
		f.Float64VarP(&rateLimit, "rate-limit", "r", 0, "Probes per second (0 = unlimited)")
		f.BoolVar(&lenient, "lenient", false, "Exit 0 even when no candidate connects")
		f.BoolVar(&showProgress, "progress", false, "Show a progress line while probing")
	}

	// Prepare flags
	prepareCmd.Flags().StringSliceVar(&collectionNames, "collection", nil,
		"Collection to create (default: "+strings.Join(collections.Default, ",")+")")
	prepareCmd.Flags().BoolVar(&listOnly, "list", false, "List existing collections instead of creating")

	// History flags
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of entries to show")

	// Add commands
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(historyCmd)

	return rootCmd
}

// buildConfig merges, lowest first: defaults, config file, dotenv file,
// process environment, flags, argument.
func buildConfig(cmd *cobra.Command, args []string) (*dbresolve.Config, error) {
	config := dbresolve.DefaultConfig()

	// Load config file if provided
	if configFile != "" {
		fileConfig, err := dbresolve.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := config.ApplyEnvFile(envFile); err != nil {
				return nil, err
			}
		} else if cmd.Flags().Changed("env-file") {
			return nil, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	// Override with command-line flags if provided
	flags := cmd.Flags()
	if flags.Changed("alias") {
		config.Aliases = aliases
	}
	if flags.Changed("timeout") {
		config.Timeout = timeout
	}
	if flags.Changed("max-attempts") {
		config.MaxAttempts = maxAttempts
	}
	if flags.Changed("deadline") {
		config.Deadline = deadline
	}
	if flags.Changed("retries") {
		config.Retry.Attempts = retries
	}
	if flags.Changed("retry-delay") {
		config.Retry.Delay = retryDelay
	}
	if flags.Changed("no-prune") {
		config.DisablePruning = noPrune
	}
	if flags.Changed("rate-limit") {
		config.RateLimit.ProbesPerSecond = rateLimit
	}
	if flags.Changed("lenient") {
		config.Lenient = lenient
	}
	if flags.Changed("progress") {
		config.Progress = showProgress
	}
	if flags.Changed("format") {
		config.Output.Format = format
	}
	if flags.Changed("output") {
		config.Output.FilePath = outputFile
	}
	if flags.Changed("pretty") {
		config.Output.Pretty = pretty
	}
	if flags.Changed("stream") {
		config.Output.Stream = stream
	}
	if flags.Changed("metrics-file") {
		config.Metrics.TextfilePath = metricsFile
	}
	if flags.Changed("history") {
		config.History.Enabled = historyFile != ""
		config.History.Path = historyFile
	}
	if flags.Changed("history-backend") {
		config.History.Backend = historyBackend
	}
	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug

	if len(args) > 0 {
		config.URI = args[0]
	}

	// The progress line and streamed text would interleave on a terminal.
	if config.Output.Stream && config.Output.FilePath == "" {
		config.Progress = false
	}

	return config, nil
}

func newLogger(config *dbresolve.Config) *logger.Logger {
	level := logger.WarnLevel
	if config.Debug {
		level = logger.DebugLevel
	} else if config.Verbose {
		level = logger.InfoLevel
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Output:    os.Stderr,
		Component: "dbresolve",
	})
}

// openOutput returns the configured destination and a func to release it.
func openOutput(config *dbresolve.Config) (io.Writer, func() error, error) {
	if config.Output.FilePath == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(config.Output.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// resolveSession is a resolver wired to signal handling and an output writer.
type resolveSession struct {
	config   *dbresolve.Config
	log      *logger.Logger
	resolver *dbresolve.Resolver
	writer   output.Writer
	shutdown *shutdown.Handler
}

func newResolveSession(cmd *cobra.Command, args []string) (*resolveSession, error) {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return nil, err
	}
	return openSession(config)
}

// openSession wires a resolver for config. extra options are applied last.
func openSession(config *dbresolve.Config, extra ...dbresolve.Option) (*resolveSession, error) {
	log := newLogger(config)

	dest, closeDest, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	writer := output.NewWriter(dest, config.Output)

	zl := log.Zerolog()
	h := shutdown.New(context.Background(), shutdown.Config{Logger: &zl})

	opts := []dbresolve.Option{
		dbresolve.WithConfig(config),
		dbresolve.WithLogger(log),
	}
	if config.Progress {
		opts = append(opts, dbresolve.WithProgress(progress.New()))
	}
	if config.Output.Stream {
		// A reader that went away (a closed pipe) stops the run.
		opts = append(opts, dbresolve.WithObserver(output.AsObserver(writer, func(err error) {
			log.WithError(err).Warn("Failed to stream attempt, stopping")
			h.Trigger()
		})))
	}
	opts = append(opts, extra...)

	r, err := dbresolve.New(opts...)
	if err != nil {
		h.Shutdown()
		closeDest()
		return nil, err
	}

	// Run in reverse: the writer finishes before dest is closed.
	h.RegisterFunc("dest", closeDest)
	h.RegisterFunc("output", writer.Close)
	h.RegisterFunc("resolver", r.Close)

	return &resolveSession{
		config:   config,
		log:      log,
		resolver: r,
		writer:   writer,
		shutdown: h,
	}, nil
}

func (s *resolveSession) close() {
	for _, err := range s.shutdown.Shutdown() {
		s.log.WithError(err).Warn("Cleanup failed")
	}
}

// resolve runs a resolution and writes its report. An interrupted run
// returns its partial report with the context error.
func (s *resolveSession) resolve() (*dbresolve.Report, error) {
	report, err := s.resolver.Resolve(s.shutdown.Context())
	if report != nil {
		if werr := s.writer.WriteReport(report); werr != nil {
			return report, fmt.Errorf("failed to write report: %w", werr)
		}
		if werr := s.writer.Flush(); werr != nil {
			return report, fmt.Errorf("failed to write report: %w", werr)
		}
	}
	if err != nil && s.shutdown.Interrupted() {
		s.log.Warn("Resolution interrupted")
	}
	return report, err
}

// run resolves and maps the outcome to an exit status. Interruption is
// reported through the status, never as an error, and is never lenient.
func (s *resolveSession) run() (*dbresolve.Report, int, error) {
	report, err := s.resolve()
	if err != nil && !(s.shutdown.Interrupted() && errors.Is(err, context.Canceled)) {
		return report, exitExhausted, err
	}
	return report, exitCodeFor(report, err, s.config.Lenient), nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := newResolveSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.close()

	_, code, err := s.run()
	if err != nil {
		return err
	}
	exitCode = code
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	r, err := dbresolve.New(
		dbresolve.WithConfig(config),
		dbresolve.WithLogger(newLogger(config)),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	plan, err := r.Plan()
	if err != nil {
		return err
	}

	dest, closeDest, err := openOutput(config)
	if err != nil {
		return err
	}
	defer closeDest()

	type entry struct {
		Index     int    `json:"index" yaml:"index"`
		Transform string `json:"transform" yaml:"transform"`
		Alias     string `json:"alias,omitempty" yaml:"alias,omitempty"`
		URI       string `json:"uri" yaml:"uri"`
	}
	entries := make([]entry, 0, len(plan))
	for _, c := range plan {
		entries = append(entries, entry{
			Index:     c.Index,
			Transform: c.Transform.String(),
			Alias:     c.Alias,
			URI:       c.Masked(),
		})
	}

	if config.Output.Format != output.FormatText {
		return encode(dest, config.Output, entries)
	}

	tw := tabwriter.NewWriter(dest, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTRANSFORM\tURI")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Index, e.Transform, e.URI)
	}
	return tw.Flush()
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	r, err := dbresolve.New(
		dbresolve.WithConfig(config),
		dbresolve.WithLogger(newLogger(config)),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	zl := r.Logger().Zerolog()
	h := shutdown.New(context.Background(), shutdown.Config{Logger: &zl})
	defer h.Shutdown()

	report, err := r.Diagnose(h.Context())
	if err != nil {
		return err
	}

	dest, closeDest, err := openOutput(config)
	if err != nil {
		return err
	}
	defer closeDest()

	if config.Output.Format != output.FormatText {
		err = encode(dest, config.Output, report)
	} else {
		err = dnscheck.WriteText(dest, report)
	}
	if err != nil {
		return err
	}

	if !report.Healthy() && !config.Lenient {
		exitCode = exitExhausted
	}
	return nil
}

func runPrepare(cmd *cobra.Command, args []string) error {
	s, err := newResolveSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.close()

	report, code, err := s.run()
	if err != nil {
		return err
	}
	if code != exitResolved || report == nil || report.Failed() {
		exitCode = code
		return nil
	}

	ctx := s.shutdown.Context()
	if listOnly {
		names, err := s.resolver.ListCollections(ctx, report)
		if err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}
		fmt.Fprintf(os.Stderr, "\nCollections in %s:\n", report.ResolvedURI)
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "  %s\n", name)
		}
		return nil
	}

	statuses, err := s.resolver.Prepare(ctx, report, collectionNames)
	fmt.Fprintln(os.Stderr)
	for _, st := range statuses {
		if st.Error != "" {
			fmt.Fprintf(os.Stderr, "  %-12s %s (%s)\n", st.Name, st.Action, st.Error)
			continue
		}
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", st.Name, st.Action)
	}
	if err != nil {
		return fmt.Errorf("failed to prepare collections: %w", err)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	path := config.History.Path
	if path == "" {
		path = dbresolve.DefaultHistoryPath
	}
	backend := config.History.Backend
	if backend == state.BackendMemory {
		return fmt.Errorf("the %s history backend does not outlive a run", backend)
	}
	onDisk := path
	if backend == state.BackendGzip {
		onDisk += ".gz"
	}
	if _, err := os.Stat(onDisk); err != nil {
		fmt.Printf("No history at %s\n", onDisk)
		return nil
	}

	store, err := state.Open(backend, path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	history := state.NewHistory(store, 0, newLogger(config).Zerolog())
	defer history.Close()

	reports, err := history.List(historyLimit)
	if err != nil {
		return err
	}

	dest, closeDest, err := openOutput(config)
	if err != nil {
		return err
	}
	defer closeDest()

	summaries := make([]output.Summary, 0, len(reports))
	for _, r := range reports {
		summaries = append(summaries, output.Summarize(r))
	}

	if config.Output.Format != output.FormatText {
		return encode(dest, config.Output, summaries)
	}

	stats, err := history.Stats()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(dest, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSTATE\tATTEMPTS\tTRANSFORM\tURI")
	for _, s := range summaries {
		uri := s.Recommended
		if uri == "" {
			uri = s.Original
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.FinishedAt.Local().Format("2006-01-02 15:04:05"), s.State, s.Attempts, s.Transform, uri)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(dest, "\n%d resolutions, %.0f%% resolved\n", stats.Total, stats.SuccessRate()*100)
	return nil
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, cfg output.Config, v interface{}) error {
	if cfg.Format == output.FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
