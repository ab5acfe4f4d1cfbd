// Package sandbox provides the OS isolation backends that enforce a
// resolved policy around a child process: filesystem restriction through
// Landlock, read-only bind remounts for protected subpaths, and a seccomp
// network filter. Each backend degrades or refuses independently; the
// executor composes them.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/codefionn/cmdgate/internal/policy"
)

// Environment contract between the parent process and the sandboxed child.
const (
	// EnvSandbox marks the child as sandboxed. Tools can adjust behavior.
	EnvSandbox = "CMDGATE_SANDBOX"
	// EnvNetworkDisabled is set to 1 when the seccomp filter blocks
	// outbound network.
	EnvNetworkDisabled = "CMDGATE_NETWORK_DISABLED"
	// EnvPolicy carries the JSON-encoded resolved policy to the helper.
	EnvPolicy = "CMDGATE_POLICY"
	// EnvWorkdir carries the working directory to the helper.
	EnvWorkdir = "CMDGATE_WORKDIR"
)

// ErrIsolationUnavailable indicates a backend the current kernel cannot
// provide. Whether this is fatal depends on the backend: Landlock treats it
// as a hard error on Linux, the mount protector degrades.
var ErrIsolationUnavailable = errors.New("isolation unavailable")

// SoftError wraps a failure the executor may log and continue past. Only
// backends that explicitly degrade produce it.
type SoftError struct {
	Backend string
	Err     error
}

func (e *SoftError) Error() string {
	return fmt.Sprintf("sandbox backend %s degraded: %v", e.Backend, e.Err)
}

func (e *SoftError) Unwrap() error { return e.Err }

// IsSoft reports whether err is a degradation rather than a hard failure.
func IsSoft(err error) bool {
	var soft *SoftError
	return errors.As(err, &soft)
}

// Backend is one isolation mechanism. Prepare runs in the parent before the
// child exists and may rewrite the command; Apply runs inside the helper
// process, immediately before exec, and restricts the calling process.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// IsAvailable probes kernel support without side effects. The result
	// is cached; probing twice does not re-touch the kernel.
	IsAvailable() bool
	// Prepare adjusts the command in the parent. Backends with no parent
	// stage return the input unchanged.
	Prepare(p policy.Policy, cmd PreparedCommand) (PreparedCommand, error)
	// Apply restricts the calling process per the policy. Irreversible.
	Apply(p policy.Policy) error
}

// PreparedCommand is the command as it travels through the backends.
type PreparedCommand struct {
	Program string
	Args    []string
	Env     []string
	Dir     string
}

// passthroughEnv is the whitelist of variables a sandboxed child inherits.
// Everything else is dropped so credentials in the parent environment never
// reach the command.
var passthroughEnv = map[string]struct{}{
	"PATH":            {},
	"HOME":            {},
	"USER":            {},
	"SHELL":           {},
	"TERM":            {},
	"LANG":            {},
	"LC_ALL":          {},
	"TZ":              {},
	"PWD":             {},
	"TMPDIR":          {},
	"XDG_RUNTIME_DIR": {},
}

// ContractEnv appends the sandbox contract variables derived from the
// policy. The rest of environ passes through untrimmed; callers that need
// the credential whitelist go through FilterEnv instead.
func ContractEnv(environ []string, p policy.Policy, workdir string) ([]string, error) {
	encoded, err := p.Encode()
	if err != nil {
		return nil, err
	}
	env := append(append([]string(nil), environ...),
		EnvSandbox+"=1",
		EnvPolicy+"="+encoded,
		EnvWorkdir+"="+workdir,
	)
	if !p.AllowsNetwork() {
		env = append(env, EnvNetworkDisabled+"=1")
	}
	return env, nil
}

// FilterEnv reduces environ to the passthrough whitelist plus the sandbox
// contract variables derived from the policy.
func FilterEnv(environ []string, p policy.Policy, workdir string) ([]string, error) {
	filtered := make([]string, 0, len(passthroughEnv)+4)
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, keep := passthroughEnv[name]; keep {
			filtered = append(filtered, kv)
		}
	}
	return ContractEnv(filtered, p, workdir)
}

// InSandbox reports whether the current process runs under the sandbox
// contract.
func InSandbox() bool {
	return os.Getenv(EnvSandbox) == "1"
}

// PolicyFromEnv recovers the resolved policy inside the helper process.
func PolicyFromEnv() (policy.Policy, string, error) {
	encoded := os.Getenv(EnvPolicy)
	if encoded == "" {
		return policy.Policy{}, "", fmt.Errorf("%s not set", EnvPolicy)
	}
	p, err := policy.Decode(encoded)
	if err != nil {
		return policy.Policy{}, "", err
	}
	return p, os.Getenv(EnvWorkdir), nil
}
