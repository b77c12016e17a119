package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/supabase/hostaudit/internal/applicability"
	"github.com/supabase/hostaudit/internal/command"
	"github.com/supabase/hostaudit/internal/config"
	"github.com/supabase/hostaudit/internal/environment"
	"github.com/supabase/hostaudit/internal/graph"
	"github.com/supabase/hostaudit/internal/lock"
	"github.com/supabase/hostaudit/internal/logging"
	"github.com/supabase/hostaudit/internal/reporter"
	"github.com/supabase/hostaudit/internal/rules"
	"github.com/supabase/hostaudit/internal/runner"
	"github.com/supabase/hostaudit/internal/statelog"
	"github.com/supabase/hostaudit/internal/tui"
	"github.com/supabase/hostaudit/pkg/types"

	// Import rule packages to trigger init() registration
	_ "github.com/supabase/hostaudit/internal/rules/kernel"
	_ "github.com/supabase/hostaudit/internal/rules/security"
)

var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitFatal   = 2
	exitAborted = 130
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "hostaudit:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "hostaudit:", err)
	return exitFatal
}

var rootCmd = &cobra.Command{
	Use:   "hostaudit",
	Short: "Host hardening audit and remediation",
	Long: `hostaudit checks a host against a catalog of hardening rules, can fix
what it finds, and records every change so a later undo run can revert it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Audit the host without changing it",
	RunE:  runMode(types.ModeReport),
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Audit the host and fix non-compliant rules",
	RunE:  runMode(types.ModeFix),
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert changes recorded by earlier fix runs",
	RunE:  runMode(types.ModeUndo),
}

var listRulesCmd = &cobra.Command{
	Use:   "list-rules",
	Short: "List the rule catalog",
	RunE:  runListRules,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a configuration overlay with every rule option",
	RunE:  runConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "/etc/hostaudit.yaml", "Configuration overlay (YAML, or TOML with a .toml suffix)")
	pf.String("state-dir", "/var/db/hostaudit", "Directory holding the change log")
	pf.String("lock-file", "/var/run/hostaudit.lock", "Lock file preventing concurrent runs")
	pf.BoolP("verbose", "v", false, "Verbose logging")
	pf.BoolP("debug", "d", false, "Debug logging")
	pf.String("log-file", "", "Also write logs to this file")
	pf.String("root", "", "Treat this directory as the filesystem root")
	pf.Bool("install", false, "Install mode: do not reload services")
	pf.String("fisma", environment.FismaLow, "FISMA risk category: low, med, high")
	pf.Bool("no-color", false, "Disable colored output")
	pf.MarkHidden("root")

	for _, c := range []*cobra.Command{reportCmd, fixCmd, undoCmd} {
		c.Flags().StringSliceP("module", "m", nil, "Run only these rules (names or numbers)")
		c.Flags().StringP("format", "f", "text", "Output format: "+strings.Join(reporter.Formats, ", "))
		c.Flags().StringP("output", "o", "", "Write the report to this file")
		c.Flags().Bool("tui", false, "Browse results in an interactive TUI")
		c.Flags().Bool("detailed", false, "Include each rule's results in text output")
	}

	listRulesCmd.Flags().Bool("dot", false, "Print the prerequisite graph in Graphviz DOT format")
	listRulesCmd.Flags().Bool("all", false, "Include rules that do not apply to this host")

	configCmd.Flags().Bool("simple", true, "Only write the commonly changed options")
	configCmd.Flags().Bool("full", false, "Write every option")
	configCmd.Flags().Bool("all", false, "Include rules that do not apply to this host")
	configCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(listRulesCmd)
	rootCmd.AddCommand(configCmd)
}

// session is the per-process setup shared by every command.
type session struct {
	logger    *log.Logger
	logCloser io.Closer
	env       *environment.Environment
	root      string
}

func (s *session) Close() {
	if s.logCloser != nil {
		s.logCloser.Close()
	}
}

func setup(cmd *cobra.Command) (*session, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	debug, _ := cmd.Flags().GetBool("debug")
	logFile, _ := cmd.Flags().GetString("log-file")
	root, _ := cmd.Flags().GetString("root")
	install, _ := cmd.Flags().GetBool("install")
	fisma, _ := cmd.Flags().GetString("fisma")
	configPath, _ := cmd.Flags().GetString("config")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	logger, closer, err := logging.New(logging.Options{Verbose: verbose, Debug: debug, File: logFile})
	if err != nil {
		return nil, &exitError{code: exitFatal, err: err}
	}
	s := &session{logger: logger, logCloser: closer, root: root}

	if !environment.ValidFisma(fisma) {
		s.Close()
		return nil, &exitError{code: exitFatal, err: errors.Errorf("invalid --fisma %q", fisma)}
	}

	info, err := environment.Detect(cmd.Context(), environment.DetectOptions{
		Root:   root,
		Runner: command.NewExec(logger),
	})
	if err != nil {
		logger.Warn("platform detection incomplete", "err", err)
	}
	info.FismaCategory = fisma
	info.InstallMode = install
	info.VerboseMode = verbose
	info.DebugMode = debug
	info.ConfigPath = configPath
	info.StateDir = stateDir

	env, err := environment.New(info)
	if err != nil {
		s.Close()
		return nil, &exitError{code: exitFatal, err: err}
	}
	s.env = env
	logger.Debug("environment", "host", env.String(), "euid", env.EUID())
	return s, nil
}

func loadConfig(s *session) *config.Document {
	doc, err := config.Load(s.env.ConfigPath())
	if err != nil {
		s.logger.Warn("ignoring configuration overlay", "err", err)
	}
	return doc
}

func runMode(mode types.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		modules, _ := cmd.Flags().GetStringSlice("module")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		useTUI, _ := cmd.Flags().GetBool("tui")
		detailed, _ := cmd.Flags().GetBool("detailed")
		noColor, _ := cmd.Flags().GetBool("no-color")
		lockFile, _ := cmd.Flags().GetString("lock-file")

		ctx := cmd.Context()
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		l, err := lock.Acquire(lockFile)
		if err != nil {
			return &exitError{code: exitFatal, err: errors.Wrap(err, "another run is in progress")}
		}
		defer l.Release()

		store, err := statelog.Open(ctx, s.env.StateDir(), s.logger)
		if err != nil {
			return &exitError{code: exitFatal, err: err}
		}
		defer store.Close()

		deps := &rules.Deps{
			Env:     s.env,
			Logger:  s.logger,
			Changes: store,
			Runner:  command.NewExec(s.logger),
			Root:    s.root,
		}
		r := runner.New(nil, deps)

		result, runErr := r.Run(ctx, runner.Options{
			Mode:   mode,
			Rules:  modules,
			Config: loadConfig(s),
			Progress: func(p runner.Progress) {
				s.logger.Info("running rule", "rule", p.Rule, "phase", p.Phase.String(), "index", p.Index+1, "total", p.Total)
			},
		})
		if runErr != nil && errors.Is(runErr, runner.ErrFatal) {
			return &exitError{code: exitFatal, err: runErr}
		}

		if err := writeResult(result, format, output, useTUI, reporter.Options{
			Color:    !noColor && output == "" && reporter.UseColor(os.Stdout),
			Detailed: detailed,
		}); err != nil {
			return &exitError{code: exitFatal, err: err}
		}

		switch {
		case rules.IsAbort(runErr):
			return &exitError{code: exitAborted, err: runErr}
		case runErr != nil:
			return &exitError{code: exitFatal, err: runErr}
		case result.ExitCode() != 0:
			return &exitError{code: result.ExitCode()}
		}
		return nil
	}
}

func writeResult(result *runner.Result, format, output string, useTUI bool, opts reporter.Options) error {
	if useTUI {
		return tui.Run(result)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return errors.Wrapf(err, "create %s", output)
		}
		defer f.Close()
		w = f
	}

	rep, err := reporter.New(format, w, opts)
	if err != nil {
		return err
	}
	return rep.Report(result)
}

// catalog builds the registered rules, keeping only those that apply to the
// host unless all is set.
func catalog(s *session, all bool) ([]rules.Rule, error) {
	built, err := rules.Default().Build(&rules.Deps{Env: s.env, Logger: s.logger, Root: s.root})
	if err != nil {
		return nil, &exitError{code: exitFatal, err: err}
	}
	if all {
		return built, nil
	}
	var out []rules.Rule
	for _, r := range built {
		pred := r.Applicable()
		if pred.Validate() == nil && applicability.Matches(pred, s.env) {
			out = append(out, r)
		}
	}
	return out, nil
}

func runListRules(cmd *cobra.Command, args []string) error {
	dot, _ := cmd.Flags().GetBool("dot")
	all, _ := cmd.Flags().GetBool("all")

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := catalog(s, all)
	if err != nil {
		return err
	}

	if dot {
		fmt.Print(rules.PrerequisiteGraph(list).ToDOT(graph.DefaultDOTOptions()))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tNAME\tFLAGS\tDESCRIPTION")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Number(), r.Name(), ruleFlags(r), r.Description())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d rules\n", len(list))
	return nil
}

func ruleFlags(r rules.Rule) string {
	var flags []string
	if r.Mandatory() {
		flags = append(flags, "mandatory")
	}
	if r.RootRequired() {
		flags = append(flags, "root")
	}
	if r.AuditOnly() {
		flags = append(flags, "audit-only")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func runConfig(cmd *cobra.Command, args []string) error {
	simple, _ := cmd.Flags().GetBool("simple")
	full, _ := cmd.Flags().GetBool("full")
	all, _ := cmd.Flags().GetBool("all")
	output, _ := cmd.Flags().GetString("output")

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := catalog(s, all)
	if err != nil {
		return err
	}

	doc := loadConfig(s)
	groups := make([]config.RuleItems, 0, len(list))
	for _, r := range list {
		items := r.ConfigItems()
		doc.Apply(r.Name(), items, s.logger)
		groups = append(groups, config.RuleItems{Name: r.Name(), Number: r.Number(), Items: items})
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return errors.Wrapf(err, "create %s", output)
		}
		defer f.Close()
		w = f
	}
	return config.Write(w, groups, simple && !full)
}
