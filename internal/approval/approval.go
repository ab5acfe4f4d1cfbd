// Package approval is the final gate before execution: it combines the risk
// assessment, the autonomy level, and the session trust state into a single
// allow/ask/deny decision, and keeps an audit trail of every decision made.
package approval

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/cmdgate/internal/autonomy"
	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/redact"
	"github.com/codefionn/cmdgate/internal/risk"
)

// Outcome is the gate's verdict.
type Outcome int

const (
	// OutcomeAllow runs the command without asking.
	OutcomeAllow Outcome = iota
	// OutcomeAsk pauses for explicit user approval.
	OutcomeAsk
	// OutcomeDeny refuses the command outright.
	OutcomeDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeAsk:
		return "ask"
	case OutcomeDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is a verdict plus the reason shown to the user and written to
// the audit trail.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Record is one audit entry. UserApproved is meaningful only for Ask
// decisions that were answered.
type Record struct {
	Time         time.Time
	Command      []string
	RiskLevel    risk.Level
	Outcome      Outcome
	Reason       string
	UserApproved bool
	Answered     bool
}

// Gate decides command approval for one session.
type Gate struct {
	manager *autonomy.Manager

	mu      sync.Mutex
	history []Record
	failed  map[string]struct{}
}

// NewGate returns a gate bound to the session's autonomy manager.
func NewGate(manager *autonomy.Manager) *Gate {
	return &Gate{
		manager: manager,
		failed:  make(map[string]struct{}),
	}
}

// Decide evaluates a command. Order is fixed and strict:
//
//  1. critical risk is denied, at every autonomy level
//  2. command substitution always asks: the visible text is not the
//     command that will run
//  3. a session-trusted command is allowed
//  4. otherwise the autonomy level's coverage decides allow vs ask
//
// Every decision is recorded.
func (g *Gate) Decide(command []string, a risk.Assessment) Decision {
	d := g.decide(command, a)
	g.record(command, a, d)
	logger.Debug("approval: %s (%s) for %q", d.Outcome, d.Reason, redact.String(a.Command))
	return d
}

func (g *Gate) decide(command []string, a risk.Assessment) Decision {
	if a.Level == risk.Critical {
		return Decision{
			Outcome: OutcomeDeny,
			Reason:  fmt.Sprintf("critical risk: %s", a.Explanation),
		}
	}
	if risk.HasCommandSubstitution(command) {
		return Decision{
			Outcome: OutcomeAsk,
			Reason:  "command substitution hides the effective command",
		}
	}
	if g.manager.IsAllowed(command) {
		return Decision{
			Outcome: OutcomeAllow,
			Reason:  "trusted earlier this session",
		}
	}

	level := g.manager.Level()
	approvalPolicy, _ := autonomy.Resolve(level, "")
	switch approvalPolicy {
	case autonomy.ApproveNever:
		return Decision{
			Outcome: OutcomeAllow,
			Reason:  fmt.Sprintf("%s auto-approves", level.DisplayName()),
		}
	case autonomy.ApproveUnlessTrusted:
		if a.SafeToAutoRun {
			return Decision{Outcome: OutcomeAllow, Reason: "verified read-only command"}
		}
		return Decision{
			Outcome: OutcomeAsk,
			Reason:  fmt.Sprintf("%s risk, not auto-runnable at %s", a.Level, level.DisplayName()),
		}
	case autonomy.ApproveOnRequest:
		if a.Level <= risk.Low {
			return Decision{
				Outcome: OutcomeAllow,
				Reason:  fmt.Sprintf("%s risk within %s", a.Level, level.DisplayName()),
			}
		}
		return Decision{
			Outcome: OutcomeAsk,
			Reason:  fmt.Sprintf("%s risk exceeds %s", a.Level, level.DisplayName()),
		}
	case autonomy.ApproveOnFailure:
		if g.hasPriorFailure(command) {
			return Decision{
				Outcome: OutcomeAsk,
				Reason:  "an equivalent command already failed this turn",
			}
		}
		return Decision{
			Outcome: OutcomeAllow,
			Reason:  fmt.Sprintf("%s risk, %s asks only after failures", a.Level, level.DisplayName()),
		}
	default:
		return Decision{Outcome: OutcomeAsk, Reason: "unknown approval policy"}
	}
}

// RecordFailure marks a command as failed so on-failure autonomy asks
// before an equivalent retry.
func (g *Gate) RecordFailure(command []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed[commandKey(command)] = struct{}{}
}

func (g *Gate) hasPriorFailure(command []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.failed[commandKey(command)]
	return ok
}

func commandKey(command []string) string {
	return strings.Join(command, "\x00")
}

// RecordResponse notes the user's answer to the most recent Ask decision
// for the command. remember additionally trusts the command for the rest
// of the session.
func (g *Gate) RecordResponse(command []string, approved, remember bool) {
	g.mu.Lock()
	for i := len(g.history) - 1; i >= 0; i-- {
		if g.history[i].Outcome == OutcomeAsk && !g.history[i].Answered &&
			sameCommand(g.history[i].Command, command) {
			g.history[i].Answered = true
			g.history[i].UserApproved = approved
			break
		}
	}
	g.mu.Unlock()

	if approved && remember {
		if !g.manager.Allow(command) {
			logger.Warn("refusing to remember command with substitution")
		}
	}
}

// History returns a copy of the audit trail, oldest first.
func (g *Gate) History() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, len(g.history))
	copy(out, g.history)
	return out
}

func (g *Gate) record(command []string, a risk.Assessment, d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, Record{
		Time:      time.Now(),
		Command:   append([]string(nil), command...),
		RiskLevel: a.Level,
		Outcome:   d.Outcome,
		Reason:    d.Reason,
	})
}

func sameCommand(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
