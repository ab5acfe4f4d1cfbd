//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/policy"
)

// MountProtector shields the protected subpaths beneath writable roots.
// Landlock cannot carve a deny out of a granted root, so those paths get a
// read-only bind remount inside a private user+mount namespace instead.
//
// The namespace must be created at clone time: Go processes are
// multithreaded before main runs and unshare(CLONE_NEWUSER) fails on them.
// Prepare therefore marks the command for namespace cloning and Apply does
// the remounts inside the already-unshared helper.
type MountProtector struct {
	probeOnce sync.Once
	available bool
	probe     func() error
}

// NewMountProtector returns the mount backend.
func NewMountProtector() *MountProtector {
	return &MountProtector{probe: probeUserNamespaces}
}

// probeUserNamespaces checks that unprivileged user namespaces are enabled.
func probeUserNamespaces() error {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		// The knob is Debian-specific; absence means namespaces follow
		// the default kernel config.
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) > 0 && data[0] == '0' {
		return fmt.Errorf("unprivileged user namespaces disabled")
	}
	return nil
}

// Name implements Backend.
func (*MountProtector) Name() string { return "mount-protector" }

// IsAvailable implements Backend.
func (m *MountProtector) IsAvailable() bool {
	m.probeOnce.Do(func() {
		if err := m.probe(); err != nil {
			logger.Debug("mount protector unavailable: %v", err)
			m.available = false
			return
		}
		m.available = true
	})
	return m.available
}

// NamespaceAttrs returns the SysProcAttr settings that place the helper in
// fresh user and mount namespaces, with the real uid/gid mapped to root so
// the remounts are permitted. Returns nil when the policy needs no
// protected subpaths or namespaces are unavailable.
func (m *MountProtector) NamespaceAttrs(p policy.Policy) *syscall.SysProcAttr {
	if len(protectedPaths(p)) == 0 {
		return nil
	}
	if !m.IsAvailable() {
		return nil
	}
	return &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		},
	}
}

// Prepare implements Backend. The namespace setup happens through
// NamespaceAttrs at spawn time; the command itself is untouched.
func (m *MountProtector) Prepare(_ policy.Policy, cmd PreparedCommand) (PreparedCommand, error) {
	return cmd, nil
}

// Apply implements Backend. Remounts every existing protected subpath
// read-only and then drops the namespace-local capabilities so the mounts
// cannot be undone. Must run inside the namespace created via
// NamespaceAttrs; outside one the remounts fail and degrade.
func (m *MountProtector) Apply(p policy.Policy) error {
	paths := protectedPaths(p)
	if len(paths) == 0 {
		return nil
	}
	if !m.IsAvailable() {
		return &SoftError{Backend: m.Name(), Err: ErrIsolationUnavailable}
	}

	// Keep mount changes out of the parent namespace.
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return &SoftError{Backend: m.Name(), Err: fmt.Errorf("make mounts private: %w", err)}
	}

	remounted := 0
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := remountReadOnly(path); err != nil {
			return &SoftError{Backend: m.Name(), Err: fmt.Errorf("protect %s: %w", path, err)}
		}
		remounted++
	}

	if err := dropCapabilities(); err != nil {
		return &SoftError{Backend: m.Name(), Err: fmt.Errorf("drop capabilities: %w", err)}
	}
	logger.Debug("mount protector applied: %d path(s) read-only", remounted)
	return nil
}

// remountReadOnly bind-mounts path onto itself and flips the bind
// read-only. The two-step dance is required: MS_RDONLY is ignored on the
// initial bind.
func remountReadOnly(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	if err := unix.Mount("", path, "", flags, ""); err != nil {
		return fmt.Errorf("remount read-only: %w", err)
	}
	return nil
}

// dropCapabilities clears all capability sets so CAP_SYS_ADMIN inside the
// namespace is gone before the command execs.
func dropCapabilities() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	return unix.Capset(&hdr, &data[0])
}

// protectedPaths returns the absolute protected subpaths for the policy.
func protectedPaths(p policy.Policy) []string {
	if !p.AllowsWrites() || p.IsDangerous() {
		return nil
	}
	var paths []string
	for _, root := range p.WritableRoots {
		for _, sub := range root.ReadOnlySubpaths {
			paths = append(paths, filepath.Join(root.Root, sub))
		}
	}
	return paths
}
