// Package policy defines the declarative sandbox policy handed to the
// isolation backends: which paths a command may write, whether it may reach
// the network, and which subpaths stay protected even inside a writable
// root. Policies are resolved once, against the caller's working directory,
// before any backend consumes them.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformed indicates a policy payload that cannot be interpreted. This
// is fatal: it aborts the pipeline before any isolation is attempted.
var ErrMalformed = errors.New("malformed sandbox policy")

// Mode selects one of the fixed policy shapes.
type Mode int

const (
	// ModeWorkspaceWrite permits writes inside the configured writable
	// roots only. Default.
	ModeWorkspaceWrite Mode = iota
	// ModeReadOnly permits no filesystem writes and no network.
	ModeReadOnly
	// ModeDangerFullAccess disables isolation entirely.
	ModeDangerFullAccess
	// ModeCustom is workspace-write with caller-supplied roots.
	ModeCustom
)

var modeNames = map[Mode]string{
	ModeWorkspaceWrite:   "workspace-write",
	ModeReadOnly:         "read-only",
	ModeDangerFullAccess: "danger-full-access",
	ModeCustom:           "custom",
}

// String returns the kebab-case mode name.
func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMode parses a mode name, accepting the common short aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "read-only", "readonly", "ro":
		return ModeReadOnly, nil
	case "workspace-write", "workspace", "ws", "default":
		return ModeWorkspaceWrite, nil
	case "danger-full-access", "full", "danger", "unsafe":
		return ModeDangerFullAccess, nil
	case "custom":
		return ModeCustom, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrMalformed, s)
	}
}

// MarshalJSON encodes the mode as its string name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a mode from its string name.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// WritableRoot is a directory subtree granted write access. Subpaths listed
// in ReadOnlySubpaths stay protected even though they lie beneath the root:
// writable is never transitive over them.
type WritableRoot struct {
	Root             string   `json:"root"`
	ReadOnlySubpaths []string `json:"read_only_subpaths,omitempty"`
}

// IsWritable reports whether path falls inside the root without touching a
// protected subpath.
func (w WritableRoot) IsWritable(path string) bool {
	if !pathHasPrefix(path, w.Root) {
		return false
	}
	for _, sub := range w.ReadOnlySubpaths {
		if pathHasPrefix(path, filepath.Join(w.Root, sub)) {
			return false
		}
	}
	return true
}

// protectedSubpathNames are always shielded under every workspace-write
// root: repository metadata and the engine's own state directory.
var protectedSubpathNames = []string{".git", ".cmdgate"}

// Policy is the tagged sandbox policy. Only the fields relevant to the mode
// are meaningful; constructors keep the combinations consistent.
type Policy struct {
	Mode          Mode           `json:"mode"`
	WritableRoots []WritableRoot `json:"writable_roots,omitempty"`
	NetworkAccess bool           `json:"network_access,omitempty"`
	ExcludeTmpdir bool           `json:"exclude_tmpdir,omitempty"`
	ExcludeTmp    bool           `json:"exclude_tmp,omitempty"`
}

// DangerFullAccess returns the no-isolation policy.
func DangerFullAccess() Policy {
	return Policy{Mode: ModeDangerFullAccess, NetworkAccess: true}
}

// ReadOnly returns the policy permitting no writes and no network.
func ReadOnly() Policy {
	return Policy{Mode: ModeReadOnly}
}

// WorkspaceWrite returns a policy writable under cwd, with the standard
// protected subpaths, plus the platform temp directories unless excluded.
func WorkspaceWrite(cwd string, network bool) Policy {
	return Policy{
		Mode: ModeWorkspaceWrite,
		WritableRoots: []WritableRoot{{
			Root:             cwd,
			ReadOnlySubpaths: append([]string(nil), protectedSubpathNames...),
		}},
		NetworkAccess: network,
	}
}

// Custom returns a workspace-write-shaped policy with caller-chosen roots.
func Custom(roots []WritableRoot, network bool) Policy {
	return Policy{
		Mode:          ModeCustom,
		WritableRoots: append([]WritableRoot(nil), roots...),
		NetworkAccess: network,
	}
}

// AllowsWrites reports whether the mode permits any filesystem write.
func (p Policy) AllowsWrites() bool {
	return p.Mode != ModeReadOnly
}

// AllowsNetwork reports whether outbound network access is permitted.
// Read-only never allows network; workspace-write and custom follow the
// flag; full access always allows.
func (p Policy) AllowsNetwork() bool {
	switch p.Mode {
	case ModeReadOnly:
		return false
	case ModeDangerFullAccess:
		return true
	default:
		return p.NetworkAccess
	}
}

// IsDangerous reports whether the policy disables isolation.
func (p Policy) IsDangerous() bool {
	return p.Mode == ModeDangerFullAccess
}

// Description returns a one-line human description for prompts and logs.
func (p Policy) Description() string {
	switch p.Mode {
	case ModeReadOnly:
		return "read-only: no file modifications, no network"
	case ModeWorkspaceWrite, ModeCustom:
		net := "no network"
		if p.NetworkAccess {
			net = "network allowed"
		}
		return fmt.Sprintf("workspace write: %d writable root(s), %s", len(p.WritableRoots), net)
	case ModeDangerFullAccess:
		return "[DANGER] full access: no isolation"
	default:
		return "unknown policy"
	}
}

// Resolve returns a copy of the policy with every root and protected
// subpath made absolute against cwd. Relative-path resolution happens here,
// once; backends only ever see absolute paths.
func (p Policy) Resolve(cwd string) (Policy, error) {
	if !filepath.IsAbs(cwd) {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: working directory %q: %v", ErrMalformed, cwd, err)
		}
		cwd = abs
	}

	resolved := p
	resolved.WritableRoots = make([]WritableRoot, 0, len(p.WritableRoots))
	for _, root := range p.WritableRoots {
		if root.Root == "" {
			return Policy{}, fmt.Errorf("%w: empty writable root", ErrMalformed)
		}
		r := root.Root
		if !filepath.IsAbs(r) {
			r = filepath.Join(cwd, r)
		}
		r = filepath.Clean(r)
		subs := make([]string, 0, len(root.ReadOnlySubpaths))
		for _, sub := range root.ReadOnlySubpaths {
			if sub == "" {
				return Policy{}, fmt.Errorf("%w: empty read-only subpath under %q", ErrMalformed, r)
			}
			if filepath.IsAbs(sub) {
				if !pathHasPrefix(sub, r) {
					return Policy{}, fmt.Errorf("%w: read-only subpath %q outside root %q", ErrMalformed, sub, r)
				}
				sub = strings.TrimPrefix(sub, r+string(filepath.Separator))
			}
			subs = append(subs, filepath.Clean(sub))
		}
		resolved.WritableRoots = append(resolved.WritableRoots, WritableRoot{
			Root:             r,
			ReadOnlySubpaths: subs,
		})
	}
	return resolved, nil
}

// WritableFor reports whether the resolved policy permits writing to path.
// /dev/null is always writable.
func (p Policy) WritableFor(path string) bool {
	if p.Mode == ModeDangerFullAccess {
		return true
	}
	if p.Mode == ModeReadOnly {
		return path == os.DevNull
	}
	if path == os.DevNull {
		return true
	}
	for _, root := range p.WritableRoots {
		if root.IsWritable(path) {
			return true
		}
	}
	return false
}

// Encode serializes the policy for the environment contract.
func (p Policy) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(data), nil
}

// Decode deserializes a policy produced by Encode.
func Decode(s string) (Policy, error) {
	var p Policy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

func pathHasPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
