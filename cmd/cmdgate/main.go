package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codefionn/cmdgate/internal/approval"
	"github.com/codefionn/cmdgate/internal/autonomy"
	"github.com/codefionn/cmdgate/internal/config"
	"github.com/codefionn/cmdgate/internal/executor"
	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/policy"
	"github.com/codefionn/cmdgate/internal/redact"
	"github.com/codefionn/cmdgate/internal/risk"
)

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	*s = append(*s, value)
	return nil
}

func (s stringSlice) toStrings() []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

type options struct {
	autonomyLevel string
	cwd           string
	configPath    string
	logLevel      string
	dryRun        bool
	assumeYes     bool
	dangerous     bool
	allowDirs     stringSlice
	command       []string
}

func main() {
	// Helper invocations bypass the CLI entirely. The flag is positional
	// so a command named like it can never be confused for it.
	if len(os.Args) > 1 && os.Args[1] == executor.HelperFlag {
		if err := executor.RunHelper(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s%v\n", executor.HelperFailureMarker, err)
			os.Exit(executor.HelperFailureExit)
		}
		return
	}

	code, err := run(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run(args []string) (exitCode int, err error) {
	opts, parseErr := parseArgs(args)
	if parseErr != nil {
		return 0, parseErr
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}
	if envLevel := strings.TrimSpace(os.Getenv("CMDGATE_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("CMDGATE_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return 0, fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("cmdgate starting")

	levelName := cfg.Autonomy
	if opts.autonomyLevel != "" {
		levelName = opts.autonomyLevel
	}
	level, err := autonomy.ParseLevel(levelName)
	if err != nil {
		return 0, err
	}

	cwd := opts.cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return 0, fmt.Errorf("determine working directory: %w", err)
		}
	}
	boundary, err := policy.NewBoundary(cwd)
	if err != nil {
		return 0, err
	}
	cwd = boundary.Anchor()

	logger.Info("gating command: %s", strings.Join(redact.Command(opts.command), " "))
	assessment := risk.Classify(opts.command)
	manager := autonomy.NewManager(level)
	if cfg.IsCommandTrusted(strings.Join(opts.command, " ")) {
		manager.Allow(opts.command)
	}

	_, sandboxPolicy := autonomy.Resolve(level, cwd)
	sandboxPolicy, err = buildPolicy(sandboxPolicy, cfg, opts, boundary, cwd)
	if err != nil {
		return 0, err
	}

	gate := approval.NewGate(manager)
	decision := gate.Decide(opts.command, assessment)

	if opts.dryRun {
		printDryRun(opts.command, level, assessment, sandboxPolicy, decision)
		return 0, nil
	}

	switch decision.Outcome {
	case approval.OutcomeDeny:
		fmt.Fprintf(os.Stderr, "Denied: %s\n", decision.Reason)
		return 1, nil
	case approval.OutcomeAsk:
		if !opts.assumeYes {
			approved, remember, promptErr := promptUser(opts.command, assessment, decision.Reason)
			if promptErr != nil {
				return 0, promptErr
			}
			gate.RecordResponse(opts.command, approved, remember)
			if !approved {
				fmt.Fprintln(os.Stderr, "Aborted.")
				return 1, nil
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := executor.New()
	exec.BestEffort = cfg.Sandbox.BestEffort
	result, runErr := exec.Run(ctx, sandboxPolicy, opts.command, cwd)
	if runErr != nil {
		code := result.ExitCode
		if code < 0 {
			code = 1
		}
		return code, fmt.Errorf("execution failed: %w", runErr)
	}
	for _, backend := range result.Degraded {
		fmt.Fprintf(os.Stderr, "Warning: %s unavailable, isolation reduced\n", backend)
	}
	if result.ExitCode != 0 {
		gate.RecordFailure(opts.command)
	}
	return result.ExitCode, nil
}

// buildPolicy layers config and flag adjustments over the level's base
// policy and resolves it. Extra writable roots must stay inside the session
// boundary.
func buildPolicy(base policy.Policy, cfg *config.Config, opts *options, boundary *policy.Boundary, cwd string) (policy.Policy, error) {
	if opts.dangerous || cfg.Sandbox.DisableSandbox {
		fmt.Fprintln(os.Stderr, "Warning: sandbox disabled, command runs with full access")
		return policy.DangerFullAccess(), nil
	}

	p := base
	p.ExcludeTmp = cfg.Sandbox.ExcludeTmp
	p.ExcludeTmpdir = cfg.Sandbox.ExcludeTmpdir
	extraDirs := append(opts.allowDirs.toStrings(), cfg.Sandbox.AdditionalReadWritePaths...)
	for _, dir := range extraDirs {
		resolved, err := boundary.Validate(dir)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("writable path rejected: %w", err)
		}
		p.WritableRoots = append(p.WritableRoots, policy.WritableRoot{Root: resolved})
	}
	for _, ro := range cfg.Sandbox.AdditionalReadOnlyPaths {
		for i, root := range p.WritableRoots {
			if root.IsWritable(ro) {
				rel := strings.TrimPrefix(ro, root.Root+"/")
				p.WritableRoots[i].ReadOnlySubpaths = append(root.ReadOnlySubpaths, rel)
			}
		}
	}
	return p.Resolve(cwd)
}

func printDryRun(command []string, level autonomy.Level, a risk.Assessment, p policy.Policy, d approval.Decision) {
	fmt.Printf("Command:   %s\n", strings.Join(command, " "))
	fmt.Printf("Autonomy:  %s\n", level.DisplayName())
	fmt.Printf("Risk:      %s (%s)\n", a.Level, a.Explanation)
	for _, c := range a.Concerns {
		fmt.Printf("  concern: %s\n", c)
	}
	fmt.Printf("Sandbox:   %s\n", p.Description())
	fmt.Printf("Decision:  %s (%s)\n", d.Outcome, d.Reason)
}

func promptUser(command []string, a risk.Assessment, reason string) (approved, remember bool, err error) {
	fmt.Fprintf(os.Stderr, "\n  %s\n", strings.Join(command, " "))
	fmt.Fprintf(os.Stderr, "Risk: %s. %s\n", a.Level, reason)
	fmt.Fprint(os.Stderr, "Run this command? [y]es / [n]o / [a]lways this session: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, false, fmt.Errorf("read approval response: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, false, nil
	case "a", "always":
		return true, true, nil
	default:
		return false, false, nil
	}
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("cmdgate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &options{}
	fs.StringVar(&opts.autonomyLevel, "autonomy", "", "Autonomy level: read-only, low, medium, high (default from config)")
	fs.StringVar(&opts.cwd, "cwd", "", "Working directory for the command (default: current directory)")
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Classify and resolve policy without executing")
	fs.BoolVar(&opts.assumeYes, "yes", false, "Approve prompts automatically (denials still apply)")
	fs.BoolVar(&opts.dangerous, "dangerous-full-access", false, "Disable the sandbox entirely (dangerous)")
	fs.Var(&opts.allowDirs, "allow-dir", "Grant write access to a directory (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options] -- command [args...]\n\n", os.Args[0])
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.command = fs.Args()
	if len(opts.command) == 0 {
		fs.Usage()
		return nil, fmt.Errorf("no command given")
	}
	return opts, nil
}
