//go:build linux

package sandbox

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/codefionn/cmdgate/internal/logger"
	"github.com/codefionn/cmdgate/internal/policy"
)

// seccomp_data layout: nr at 0, arch at 4, args start at 16, 8 bytes each.
// Loads below read the low 32 bits of each field, which is correct on the
// little-endian architectures the arch check admits.
const (
	seccompDataNr   = 0
	seccompDataArch = 4
	seccompDataArg0 = 16
)

const retErrnoEPerm = unix.SECCOMP_RET_ERRNO | (uint32(unix.EPERM) & unix.SECCOMP_RET_DATA)

// x32SyscallBit marks x32-ABI syscall numbers on amd64. Their arch field
// still reads AUDIT_ARCH_X86_64, so the nr must be checked explicitly.
const x32SyscallBit = 0x40000000

// NetworkFilter blocks outbound network for the calling process with a
// seccomp-bpf filter. Network syscalls fail with EPERM instead of killing
// the process, so commands see an ordinary "permission denied". AF_UNIX
// sockets stay usable: local IPC is not network.
type NetworkFilter struct {
	probeOnce sync.Once
	available bool
	probe     func() error
}

// NewNetworkFilter returns the seccomp backend.
func NewNetworkFilter() *NetworkFilter {
	return &NetworkFilter{probe: probeSeccomp}
}

func probeSeccomp() error {
	_, err := unix.PrctlRetInt(unix.PR_GET_SECCOMP, 0, 0, 0, 0)
	return err
}

// Name implements Backend.
func (*NetworkFilter) Name() string { return "seccomp-network" }

// IsAvailable implements Backend.
func (f *NetworkFilter) IsAvailable() bool {
	f.probeOnce.Do(func() {
		if _, _, ok := auditArch(); !ok {
			f.available = false
			return
		}
		if err := f.probe(); err != nil {
			logger.Debug("seccomp unavailable: %v", err)
			f.available = false
			return
		}
		f.available = true
	})
	return f.available
}

// Prepare implements Backend. No parent stage; FilterEnv already marks the
// environment when network is disabled.
func (f *NetworkFilter) Prepare(_ policy.Policy, cmd PreparedCommand) (PreparedCommand, error) {
	return cmd, nil
}

// Apply implements Backend. Installs the filter when the policy forbids
// network. A requested network restriction that cannot be installed is a
// hard error: the command must not run half-filtered.
func (f *NetworkFilter) Apply(p policy.Policy) error {
	if p.AllowsNetwork() {
		return nil
	}
	if !f.IsAvailable() {
		return fmt.Errorf("%w: seccomp not supported, network restriction cannot be enforced", ErrIsolationUnavailable)
	}

	prog, err := networkDenyProgram()
	if err != nil {
		return fmt.Errorf("assemble network filter: %w", err)
	}
	if err := installSeccomp(prog); err != nil {
		return fmt.Errorf("install network filter: %w", err)
	}
	logger.Debug("seccomp network filter installed")
	return nil
}

// deniedNetworkSyscalls are rejected outright with EPERM. recvmsg is
// deliberately absent: fd passing over inherited sockets stays possible.
func deniedNetworkSyscalls() []uint32 {
	return []uint32{
		unix.SYS_CONNECT,
		unix.SYS_BIND,
		unix.SYS_LISTEN,
		unix.SYS_SENDTO,
		unix.SYS_SENDMSG,
		unix.SYS_SENDMMSG,
		unix.SYS_GETSOCKOPT,
		unix.SYS_SETSOCKOPT,
		unix.SYS_PTRACE,
	}
}

func auditArch() (uint32, string, bool) {
	switch runtime.GOARCH {
	case "amd64":
		return unix.AUDIT_ARCH_X86_64, "amd64", true
	case "arm64":
		return unix.AUDIT_ARCH_AARCH64, "arm64", true
	default:
		return 0, runtime.GOARCH, false
	}
}

// networkDenyProgram assembles the filter:
//
//	foreign arch          -> EPERM (compat ABIs renumber syscalls)
//	x32 nr on amd64       -> EPERM
//	denied syscall        -> EPERM
//	socket/socketpair     -> allow only AF_UNIX, else EPERM
//	everything else       -> allow
func networkDenyProgram() ([]bpf.RawInstruction, error) {
	arch, name, ok := auditArch()
	if !ok {
		return nil, fmt.Errorf("no seccomp filter for architecture %s", name)
	}

	denied := deniedNetworkSyscalls()

	// Layout after the arch gate, indices relative to the nr load:
	//   0            load nr
	//   (amd64 only) x32 bit check, jump to deny
	//   1..n         denied checks, jump to deny
	//   n+1, n+2     socket/socketpair checks, jump to domain check
	//   n+3          allow
	//   n+4..n+7     load arg0, AF_UNIX check, deny, allow
	//   n+8          deny
	n := len(denied)
	insns := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArch, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: arch, SkipTrue: 1},
		bpf.RetConstant{Val: retErrnoEPerm},
		bpf.LoadAbsolute{Off: seccompDataNr, Size: 4},
	}
	if arch == unix.AUDIT_ARCH_X86_64 {
		insns = append(insns, bpf.JumpIf{
			Cond:     bpf.JumpBitsSet,
			Val:      x32SyscallBit,
			SkipTrue: uint8(n + 7),
		})
	}
	for i, nr := range denied {
		insns = append(insns, bpf.JumpIf{
			Cond:     bpf.JumpEqual,
			Val:      nr,
			SkipTrue: uint8(n + 7 - (i + 1)),
		})
	}
	insns = append(insns,
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.SYS_SOCKET, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.SYS_SOCKETPAIR, SkipTrue: 1},
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
		bpf.LoadAbsolute{Off: seccompDataArg0, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.AF_UNIX, SkipTrue: 1},
		bpf.RetConstant{Val: retErrnoEPerm},
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
		bpf.RetConstant{Val: retErrnoEPerm},
	)

	return bpf.Assemble(insns)
}

func installSeccomp(raw []bpf.RawInstruction) error {
	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl no_new_privs: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("prctl set_seccomp: %w", err)
	}
	return nil
}
