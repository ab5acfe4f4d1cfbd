//go:build linux

package sandbox

import (
	"syscall"

	"github.com/codefionn/cmdgate/internal/policy"
)

var (
	defaultMounts   = NewMountProtector()
	defaultNetwork  = NewNetworkFilter()
	defaultLandlock = NewLandlock()
)

// PlatformBackends returns the backends for this platform in application
// order. Mount protection first, then the network filter, then Landlock;
// after Landlock only exec may follow.
func PlatformBackends() []Backend {
	return []Backend{defaultMounts, defaultNetwork, defaultLandlock}
}

// Supported reports whether full isolation is possible here. On Linux that
// means Landlock: without the write barrier the sandbox is not a sandbox.
func Supported() bool {
	return defaultLandlock.IsAvailable()
}

// NamespaceAttrs returns the clone attributes the helper needs for the
// policy, or nil when no namespace is required.
func NamespaceAttrs(p policy.Policy) *syscall.SysProcAttr {
	return defaultMounts.NamespaceAttrs(p)
}
