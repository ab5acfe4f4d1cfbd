package sandbox

import (
	"os"

	"github.com/codefionn/cmdgate/internal/policy"
)

// Passthrough is the no-isolation backend used for danger-full-access and
// on platforms without kernel support. It still applies the environment
// contract so tools can tell they ran without isolation.
type Passthrough struct{}

// NewPassthrough returns the passthrough backend.
func NewPassthrough() *Passthrough { return &Passthrough{} }

// Name implements Backend.
func (*Passthrough) Name() string { return "passthrough" }

// IsAvailable implements Backend. Passthrough always works.
func (*Passthrough) IsAvailable() bool { return true }

// Prepare implements Backend. The command keeps its environment but gains
// the contract variables, so it can tell it ran without isolation.
func (*Passthrough) Prepare(p policy.Policy, cmd PreparedCommand) (PreparedCommand, error) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	env, err := ContractEnv(cmd.Env, p, cmd.Dir)
	if err != nil {
		return cmd, err
	}
	cmd.Env = env
	return cmd, nil
}

// Apply implements Backend. Nothing is restricted.
func (*Passthrough) Apply(policy.Policy) error { return nil }
