//go:build linux

package executor

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/sandbox"
)

// RunHelper is the helper-side entry point. args is the command to exec,
// program first; the policy and working directory arrive through the
// environment contract. On success this call never returns: the process
// image is replaced by the command. Every restriction applied here is
// irreversible, which is the point of doing it in a disposable process.
func RunHelper(args []string) error {
	if len(args) == 0 {
		return ErrEmptyCommand
	}

	p, workdir, err := sandbox.PolicyFromEnv()
	if err != nil {
		return fmt.Errorf("read sandbox contract: %w", err)
	}
	if workdir != "" {
		if err := os.Chdir(workdir); err != nil {
			return fmt.Errorf("enter workdir %s: %w", workdir, err)
		}
	}

	state := StateUnapplied
	for _, b := range sandbox.PlatformBackends() {
		next, ok := backendStates[b.Name()]
		if !ok {
			return fmt.Errorf("backend %s has no state mapping", b.Name())
		}
		if next < state {
			return fmt.Errorf("backend %s out of order at %s", b.Name(), state)
		}
		if err := b.Apply(p); err != nil {
			if sandbox.IsSoft(err) {
				logger.Warn("%v", err)
				state = next
				continue
			}
			return fmt.Errorf("apply %s: %w", b.Name(), err)
		}
		state = next
	}
	if state != StateCapabilitiesApplied {
		return fmt.Errorf("isolation incomplete, stopped at %s", state)
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	return unix.Exec(path, args, os.Environ())
}
