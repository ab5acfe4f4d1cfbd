//go:build !linux

package sandbox

import (
	"syscall"

	"github.com/codefionn/cmdgate/internal/policy"
)

// PlatformBackends returns the backends for this platform. Without kernel
// isolation primitives only passthrough remains; callers warn the user.
func PlatformBackends() []Backend {
	return []Backend{NewPassthrough()}
}

// Supported reports whether full isolation is possible here.
func Supported() bool { return false }

// NamespaceAttrs returns nil: no namespace support on this platform.
func NamespaceAttrs(policy.Policy) *syscall.SysProcAttr { return nil }
