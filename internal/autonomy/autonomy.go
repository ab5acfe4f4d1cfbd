// Package autonomy maps the user-chosen autonomy level to an approval
// policy and a sandbox policy, and tracks per-session trust decisions.
package autonomy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/codefionn/cmdgate/internal/policy"
	"github.com/codefionn/cmdgate/internal/risk"
)

// Level is the amount of freedom the user grants the tool. Ordering is
// meaningful: higher levels approve strictly more than lower ones.
type Level int

const (
	// LevelReadOnly auto-approves nothing but verified read-only commands.
	LevelReadOnly Level = iota
	// LevelLow auto-approves low-risk commands inside the workspace.
	LevelLow
	// LevelMedium auto-approves up to medium risk, asks on failure.
	LevelMedium
	// LevelHigh auto-approves everything short of critical risk.
	LevelHigh
)

// Default is the level used when configuration names none.
const Default = LevelMedium

var levelNames = map[Level]string{
	LevelReadOnly: "read-only",
	LevelLow:      "low",
	LevelMedium:   "medium",
	LevelHigh:     "high",
}

// String returns the canonical kebab-case name.
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

// DisplayName returns the name shown in prompts and status lines.
func (l Level) DisplayName() string {
	switch l {
	case LevelReadOnly:
		return "Read Only"
	case LevelLow:
		return "Low Autonomy"
	case LevelMedium:
		return "Medium Autonomy"
	case LevelHigh:
		return "High Autonomy"
	default:
		return "Unknown"
	}
}

// ShortName returns the compact indicator for narrow UI.
func (l Level) ShortName() string {
	switch l {
	case LevelReadOnly:
		return "RO"
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MED"
	case LevelHigh:
		return "HIGH"
	default:
		return "?"
	}
}

// Next returns the next level, cycling back to read-only after high.
func (l Level) Next() Level {
	switch l {
	case LevelReadOnly:
		return LevelLow
	case LevelLow:
		return LevelMedium
	case LevelMedium:
		return LevelHigh
	default:
		return LevelReadOnly
	}
}

// ParseLevel parses a level name, accepting common aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "read-only", "readonly", "ro":
		return LevelReadOnly, nil
	case "low":
		return LevelLow, nil
	case "medium", "med":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	default:
		return 0, fmt.Errorf("unknown autonomy level %q", s)
	}
}

// ApprovalPolicy decides when command execution pauses for the user.
type ApprovalPolicy int

const (
	// ApproveNever runs without asking.
	ApproveNever ApprovalPolicy = iota
	// ApproveOnFailure runs, asking only when the command fails.
	ApproveOnFailure
	// ApproveOnRequest asks before anything the level does not cover.
	ApproveOnRequest
	// ApproveUnlessTrusted asks unless the command is in the session
	// allowlist.
	ApproveUnlessTrusted
)

// String returns the policy name.
func (p ApprovalPolicy) String() string {
	switch p {
	case ApproveNever:
		return "never"
	case ApproveOnFailure:
		return "on-failure"
	case ApproveOnRequest:
		return "on-request"
	case ApproveUnlessTrusted:
		return "unless-trusted"
	default:
		return "unknown"
	}
}

// Resolve maps the level to its approval policy and sandbox policy, with
// cwd as the workspace root. The pairing is fixed: loosening approval and
// loosening the sandbox move together.
func Resolve(l Level, cwd string) (ApprovalPolicy, policy.Policy) {
	switch l {
	case LevelReadOnly:
		return ApproveUnlessTrusted, policy.ReadOnly()
	case LevelLow:
		return ApproveOnRequest, policy.WorkspaceWrite(cwd, false)
	case LevelMedium:
		return ApproveOnFailure, policy.WorkspaceWrite(cwd, true)
	case LevelHigh:
		return ApproveNever, policy.WorkspaceWrite(cwd, true)
	default:
		return ApproveUnlessTrusted, policy.ReadOnly()
	}
}

// AllowsRisk reports whether the level auto-approves a command with the
// given assessment. Read-only requires both a safe rating and a read-only
// command category; the other levels compare risk ordinally.
func AllowsRisk(l Level, a risk.Assessment) bool {
	switch l {
	case LevelReadOnly:
		return a.Level == risk.Safe && a.Category == risk.CategoryReadOnly
	case LevelLow:
		return a.Level <= risk.Low
	case LevelMedium:
		return a.Level <= risk.Medium
	case LevelHigh:
		return true
	default:
		return false
	}
}

// Manager holds the session-scoped trust state: the current level and the
// set of command strings the user approved with "always allow". The
// allowlist never survives the process.
type Manager struct {
	mu      sync.Mutex
	level   Level
	allowed map[string]struct{}
}

// NewManager creates a manager at the given level with an empty allowlist.
func NewManager(level Level) *Manager {
	return &Manager{level: level, allowed: make(map[string]struct{})}
}

// Level returns the current autonomy level.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// SetLevel switches the autonomy level mid-session. The allowlist is kept:
// trust once granted holds for the session.
func (m *Manager) SetLevel(level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

// Cycle advances to the next level and returns it.
func (m *Manager) Cycle() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = m.level.Next()
	return m.level
}

// Allow records a command string as trusted for the rest of the session.
// Commands containing substitution are never recorded: their effective
// text changes between runs.
func (m *Manager) Allow(command []string) bool {
	if risk.HasCommandSubstitution(command) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[commandKey(command)] = struct{}{}
	return true
}

// IsAllowed reports whether the exact command was trusted earlier in the
// session. A command with substitution never matches, even if its text
// was somehow recorded.
func (m *Manager) IsAllowed(command []string) bool {
	if risk.HasCommandSubstitution(command) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.allowed[commandKey(command)]
	return ok
}

// Forget drops a previously trusted command.
func (m *Manager) Forget(command []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allowed, commandKey(command))
}

// AllowedCount returns the number of trusted commands.
func (m *Manager) AllowedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allowed)
}

func commandKey(command []string) string {
	return strings.Join(command, "\x00")
}
