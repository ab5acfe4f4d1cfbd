//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"sync"

	"github.com/landlock-lsm/go-landlock/landlock"
	llsys "github.com/landlock-lsm/go-landlock/landlock/syscall"

	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/policy"
)

// Landlock restricts filesystem access for the calling process using the
// kernel's Landlock LSM. It is the primary write barrier: everything is
// readable, writes are confined to the policy's writable roots. Protected
// subpaths are not handled here; Landlock grants are additive and cannot
// carve a deny out of a granted root. The mount protector covers those.
type Landlock struct {
	probeOnce sync.Once
	available bool
	probe     func() error
}

// NewLandlock returns the Landlock backend.
func NewLandlock() *Landlock {
	return &Landlock{probe: probeLandlock}
}

// probeLandlock asks the kernel for the ABI version without creating a
// ruleset. No process state changes.
func probeLandlock() error {
	v, err := llsys.LandlockGetABIVersion()
	if err != nil {
		return err
	}
	if v < 1 {
		return fmt.Errorf("landlock ABI version %d", v)
	}
	return nil
}

// Name implements Backend.
func (*Landlock) Name() string { return "landlock" }

// IsAvailable implements Backend. The probe runs once per process.
func (l *Landlock) IsAvailable() bool {
	l.probeOnce.Do(func() {
		if err := l.probe(); err != nil {
			logger.Debug("landlock unavailable: %v", err)
			l.available = false
			return
		}
		l.available = true
	})
	return l.available
}

// Prepare implements Backend. Landlock has no parent stage.
func (l *Landlock) Prepare(_ policy.Policy, cmd PreparedCommand) (PreparedCommand, error) {
	return cmd, nil
}

// Apply implements Backend. Restricts the calling process; must run in the
// helper, after which only exec follows. Unavailable Landlock on Linux is a
// hard error: without it the write barrier does not exist.
func (l *Landlock) Apply(p policy.Policy) error {
	if p.IsDangerous() {
		return nil
	}
	if !l.IsAvailable() {
		return fmt.Errorf("%w: landlock not supported by this kernel", ErrIsolationUnavailable)
	}

	rules := []landlock.Rule{landlock.RODirs("/")}
	if p.AllowsWrites() {
		for _, root := range p.WritableRoots {
			if _, err := os.Stat(root.Root); err != nil {
				logger.Warn("skipping missing writable root %s: %v", root.Root, err)
				continue
			}
			rules = append(rules, landlock.RWDirs(root.Root))
		}
		for _, dir := range tmpDirs(p) {
			if _, err := os.Stat(dir); err == nil {
				rules = append(rules, landlock.RWDirs(dir))
			}
		}
	}
	rules = append(rules, landlock.RWFiles(os.DevNull))

	if err := landlock.V6.BestEffort().RestrictPaths(rules...); err != nil {
		return fmt.Errorf("landlock restrict: %w", err)
	}
	logger.Debug("landlock applied: mode=%s roots=%d", p.Mode, len(p.WritableRoots))
	return nil
}

// tmpDirs returns the temp directories writable under the policy.
func tmpDirs(p policy.Policy) []string {
	var dirs []string
	if !p.ExcludeTmp {
		dirs = append(dirs, "/tmp")
	}
	if !p.ExcludeTmpdir {
		if td := os.Getenv("TMPDIR"); td != "" && td != "/tmp" {
			dirs = append(dirs, td)
		}
	}
	return dirs
}
