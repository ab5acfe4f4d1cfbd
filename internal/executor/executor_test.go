package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/codefionn/cmdgate/internal/policy"
)

// newQuiet returns an executor that captures output without echoing it to
// the test's stdout.
func newQuiet() *Executor {
	e := New()
	e.Stdout = nil
	e.Stderr = nil
	return e
}

func TestRunEmptyCommand(t *testing.T) {
	e := newQuiet()
	_, err := e.Run(context.Background(), policy.DangerFullAccess(), nil, "")
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("error = %v, want ErrEmptyCommand", err)
	}
}

func TestRunDirectCapturesOutput(t *testing.T) {
	e := newQuiet()
	result, err := e.Run(context.Background(), policy.DangerFullAccess(), []string{"echo", "hello"}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestRunDirectSetsContractEnv(t *testing.T) {
	e := newQuiet()
	result, err := e.Run(context.Background(), policy.DangerFullAccess(),
		[]string{"sh", "-c", `echo "$CMDGATE_SANDBOX"; echo "$CMDGATE_POLICY"`}, t.TempDir())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.SplitN(strings.TrimSpace(result.Stdout), "\n", 2)
	if len(lines) != 2 || lines[0] != "1" {
		t.Fatalf("contract variables missing, stdout = %q", result.Stdout)
	}
	p, err := policy.Decode(strings.TrimSpace(lines[1]))
	if err != nil {
		t.Fatalf("decode policy from child environment: %v", err)
	}
	if p.Mode != policy.ModeDangerFullAccess {
		t.Errorf("child saw mode %s, want danger-full-access", p.Mode)
	}
}

func TestIsolationRefused(t *testing.T) {
	refused := ExecutionResult{
		ExitCode: HelperFailureExit,
		Stderr:   HelperFailureMarker + "landlock not supported\n",
	}
	if !isolationRefused(refused) {
		t.Error("helper abort not detected")
	}
	if isolationRefused(ExecutionResult{ExitCode: HelperFailureExit, Stderr: "permission denied\n"}) {
		t.Error("plain exit 126 misread as isolation failure")
	}
	if isolationRefused(ExecutionResult{ExitCode: 1, Stderr: HelperFailureMarker + "x\n"}) {
		t.Error("marker with a different exit status misread")
	}
}

func TestRunDirectPropagatesExitCode(t *testing.T) {
	e := newQuiet()
	result, err := e.Run(context.Background(), policy.DangerFullAccess(), []string{"sh", "-c", "exit 3"}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRunDirectMissingProgram(t *testing.T) {
	e := newQuiet()
	result, err := e.Run(context.Background(), policy.DangerFullAccess(), []string{"no-such-program-xyz"}, "")
	if err == nil {
		t.Fatal("missing program ran")
	}
	if result.ExitCode == 0 {
		t.Errorf("exit code = %d for a missing program", result.ExitCode)
	}
}

func TestRunDirectWorkdir(t *testing.T) {
	dir := t.TempDir()
	e := newQuiet()
	result, err := e.Run(context.Background(), policy.DangerFullAccess(), []string{"pwd"}, dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != dir {
		t.Errorf("pwd = %q, want %q", result.Stdout, dir)
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newQuiet()
	_, err := e.Run(ctx, policy.DangerFullAccess(), []string{"sleep", "30"}, "")
	if err == nil {
		t.Fatal("cancelled run succeeded")
	}
}

func TestExecutorReusableAfterRun(t *testing.T) {
	e := newQuiet()
	for i := 0; i < 3; i++ {
		result, err := e.Run(context.Background(), policy.DangerFullAccess(), []string{"true"}, "")
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if result.ExitCode != 0 {
			t.Fatalf("run %d exit code = %d", i, result.ExitCode)
		}
	}
	if e.State() != StateUnapplied {
		t.Errorf("state after runs = %s, want unapplied", e.State())
	}
}

func TestStateTransitions(t *testing.T) {
	e := newQuiet()
	if err := e.transition(StateUnapplied, StateExecuting); err != nil {
		t.Fatalf("valid transition rejected: %v", err)
	}
	if err := e.transition(StateUnapplied, StateExecuting); err == nil {
		t.Error("repeated transition from a stale state accepted")
	}
	if err := e.transition(StateExecuting, StateCompleted); err != nil {
		t.Fatalf("completion transition rejected: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnapplied:           "unapplied",
		StateMountsApplied:       "mounts-applied",
		StateNetworkFiltered:     "network-filtered",
		StateCapabilitiesApplied: "capabilities-applied",
		StateExecuting:           "executing",
		StateCompleted:           "completed",
		StateFailed:              "failed",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestBackendStatesCoverPlatformBackends(t *testing.T) {
	for name := range backendStates {
		if backendStates[name] == StateUnapplied {
			t.Errorf("backend %s maps to the initial state", name)
		}
	}
}
