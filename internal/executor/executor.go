// Package executor runs an approved command under the sandbox backends.
// The parent prepares and spawns a helper copy of the running binary; the
// helper applies the irreversible restrictions to itself and execs the real
// command. Restrictions therefore never touch the parent process.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/policy"
	"github.com/codefionn/cmdgate/internal/sandbox"
)

// HelperFlag marks an invocation of the binary as the sandbox helper. It is
// matched positionally as the first argument and never documented in help
// output.
const HelperFlag = "--sandbox-helper"

// ErrEmptyCommand indicates a run request with no program.
var ErrEmptyCommand = errors.New("empty command")

// HelperFailureExit is the helper's exit status when it aborts before exec
// because isolation could not be applied. Paired with HelperFailureMarker on
// stderr so a command that happens to exit with the same status is not
// misread as an isolation failure.
const (
	HelperFailureExit   = 126
	HelperFailureMarker = "cmdgate-sandbox-failure: "
)

// State tracks the helper's progression through the isolation sequence.
// Transitions are strictly forward; a skipped or repeated stage is a bug.
type State int

const (
	StateUnapplied State = iota
	StateMountsApplied
	StateNetworkFiltered
	StateCapabilitiesApplied
	StateExecuting
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateUnapplied:           "unapplied",
	StateMountsApplied:       "mounts-applied",
	StateNetworkFiltered:     "network-filtered",
	StateCapabilitiesApplied: "capabilities-applied",
	StateExecuting:           "executing",
	StateCompleted:           "completed",
	StateFailed:              "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// backendStates maps each backend to the state it completes.
var backendStates = map[string]State{
	"mount-protector": StateMountsApplied,
	"seccomp-network": StateNetworkFiltered,
	"landlock":        StateCapabilitiesApplied,
	"passthrough":     StateCapabilitiesApplied,
}

// ExecutionResult is the outcome of a sandboxed run.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Degraded lists backends that could not apply and were skipped.
	Degraded []string
}

// Executor spawns sandboxed commands. Zero value is not usable; use New.
type Executor struct {
	mu       sync.Mutex
	state    State
	backends []sandbox.Backend

	// Stdout and Stderr receive live output in addition to the captured
	// copies in the result. Nil means discard the live stream.
	Stdout io.Writer
	Stderr io.Writer

	// BestEffort runs the command without isolation when the kernel
	// cannot provide it, instead of refusing.
	BestEffort bool
}

// New returns an executor over the platform backends.
func New() *Executor {
	return &Executor{
		backends: sandbox.PlatformBackends(),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

func (e *Executor) transition(from, to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return fmt.Errorf("invalid sandbox state transition %s -> %s (at %s)", from, to, e.state)
	}
	e.state = to
	return nil
}

// State returns the current state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) fail() {
	e.mu.Lock()
	e.state = StateFailed
	e.mu.Unlock()
}

// Run executes command under the resolved policy, working directory
// workdir. Danger-full-access runs the command directly. On platforms
// without isolation the command also runs directly, with a warning; on
// Linux a missing write barrier is a hard error instead.
func (e *Executor) Run(ctx context.Context, p policy.Policy, command []string, workdir string) (ExecutionResult, error) {
	if len(command) == 0 {
		return ExecutionResult{ExitCode: -1}, ErrEmptyCommand
	}

	if p.IsDangerous() {
		logger.Warn("running without isolation: %s", p.Description())
		return e.runUnsandboxed(ctx, p, command, workdir)
	}
	if runtime.GOOS != "linux" {
		logger.Warn("sandbox unsupported on %s, running without isolation", runtime.GOOS)
		return e.runUnsandboxed(ctx, p, command, workdir)
	}
	if !sandbox.Supported() {
		if e.BestEffort {
			logger.Warn("kernel lacks isolation support, running without sandbox")
			return e.runUnsandboxed(ctx, p, command, workdir)
		}
		return ExecutionResult{ExitCode: -1},
			fmt.Errorf("cannot isolate command: %w", sandbox.ErrIsolationUnavailable)
	}

	prepared := sandbox.PreparedCommand{
		Program: command[0],
		Args:    command[1:],
		Dir:     workdir,
	}
	env, err := sandbox.FilterEnv(os.Environ(), p, workdir)
	if err != nil {
		return ExecutionResult{ExitCode: -1}, err
	}
	prepared.Env = env

	for _, b := range e.backends {
		prepared, err = b.Prepare(p, prepared)
		if err != nil {
			return ExecutionResult{ExitCode: -1}, fmt.Errorf("prepare %s: %w", b.Name(), err)
		}
	}

	return e.runHelper(ctx, p, prepared)
}

// runUnsandboxed executes the command directly, still under the environment
// contract so the child can see the policy it ran without.
func (e *Executor) runUnsandboxed(ctx context.Context, p policy.Policy, command []string, workdir string) (ExecutionResult, error) {
	prepared := sandbox.PreparedCommand{
		Program: command[0],
		Args:    command[1:],
		Dir:     workdir,
	}
	prepared, err := sandbox.NewPassthrough().Prepare(p, prepared)
	if err != nil {
		return ExecutionResult{ExitCode: -1}, err
	}
	return e.runDirect(ctx, command, workdir, prepared.Env)
}

// runHelper spawns the current binary as the sandbox helper.
func (e *Executor) runHelper(ctx context.Context, p policy.Policy, prepared sandbox.PreparedCommand) (ExecutionResult, error) {
	self, err := os.Executable()
	if err != nil {
		return ExecutionResult{ExitCode: -1}, fmt.Errorf("locate own binary: %w", err)
	}

	args := append([]string{HelperFlag, prepared.Program}, prepared.Args...)
	attrs := sandbox.NamespaceAttrs(p)

	result, err := e.spawn(ctx, self, args, prepared, attrs)
	if err != nil && attrs != nil && !isExitError(err) {
		// Namespace creation can fail on restricted kernels. The protected
		// subpaths lose their extra shield; Landlock still confines writes
		// to the roots.
		logger.Warn("namespace spawn failed, retrying without mount protection: %v", err)
		result, err = e.spawn(ctx, self, args, prepared, nil)
		if err == nil {
			result.Degraded = append(result.Degraded, "mount-protector")
		}
	}
	if err == nil && isolationRefused(result) {
		result.ExitCode = -1
		return result, fmt.Errorf("cannot safely execute command: %w", sandbox.ErrIsolationUnavailable)
	}
	return result, err
}

// isolationRefused reports whether a helper run ended in an isolation abort
// rather than a command exit.
func isolationRefused(result ExecutionResult) bool {
	return result.ExitCode == HelperFailureExit &&
		strings.Contains(result.Stderr, HelperFailureMarker)
}

func (e *Executor) spawn(ctx context.Context, program string, args []string, prepared sandbox.PreparedCommand, attrs *syscall.SysProcAttr) (ExecutionResult, error) {
	if err := e.transition(StateUnapplied, StateExecuting); err != nil {
		return ExecutionResult{ExitCode: -1}, err
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = prepared.Dir
	cmd.Env = prepared.Env
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = attrs

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeTo(&stdout, e.Stdout)
	cmd.Stderr = teeTo(&stderr, e.Stderr)

	runErr := cmd.Run()
	result := ExecutionResult{
		ExitCode: exitCode(cmd, runErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if runErr != nil && !isExitError(runErr) {
		e.fail()
		// Reset so a retry can go through the machine again.
		e.mu.Lock()
		e.state = StateUnapplied
		e.mu.Unlock()
		return result, runErr
	}
	if err := e.transition(StateExecuting, StateCompleted); err != nil {
		return result, err
	}
	e.mu.Lock()
	e.state = StateUnapplied
	e.mu.Unlock()
	return result, nil
}

func (e *Executor) runDirect(ctx context.Context, command []string, workdir string, env []string) (ExecutionResult, error) {
	if err := e.transition(StateUnapplied, StateExecuting); err != nil {
		return ExecutionResult{ExitCode: -1}, err
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workdir
	cmd.Env = env
	cmd.Stdin = os.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeTo(&stdout, e.Stdout)
	cmd.Stderr = teeTo(&stderr, e.Stderr)

	runErr := cmd.Run()
	result := ExecutionResult{
		ExitCode: exitCode(cmd, runErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	e.mu.Lock()
	e.state = StateUnapplied
	e.mu.Unlock()
	if runErr != nil && !isExitError(runErr) {
		return result, runErr
	}
	return result, nil
}

func teeTo(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
