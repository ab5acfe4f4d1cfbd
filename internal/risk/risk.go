// Package risk classifies shell commands proposed by the agent before they
// are allowed anywhere near an executor. Classification is a pure function
// over the argv: no I/O, no side effects, and it never fails - unknown input
// degrades to a conservative risk level instead of an error.
package risk

import (
	"fmt"
	"strings"
)

// Level is the ordered risk classification for a command.
type Level int

const (
	// Safe commands are read-only by nature (ls, git status).
	Safe Level = iota
	// Low risk commands may touch project files but not system state.
	Low
	// Medium risk commands modify files, packages or repository state.
	Medium
	// High risk commands are potentially destructive (force push, sudo).
	High
	// Critical commands match a known dangerous pattern and are never run.
	Critical
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case Safe:
		return "safe"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Category describes what kind of command was recognized. It is carried in
// the assessment for display and for the coarse autonomy check, which needs
// to know whether a Safe command is read-only by nature.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryReadOnly
	CategoryFileSystem
	CategoryGit
	CategoryBuild
	CategoryPackageManager
	CategoryDangerous
)

// String returns the snake_case name of the category.
func (c Category) String() string {
	switch c {
	case CategoryReadOnly:
		return "read_only"
	case CategoryFileSystem:
		return "file_system"
	case CategoryGit:
		return "git"
	case CategoryBuild:
		return "build"
	case CategoryPackageManager:
		return "package_manager"
	case CategoryDangerous:
		return "dangerous"
	default:
		return "unknown"
	}
}

// Assessment is the immutable result of classifying one command.
type Assessment struct {
	Level Level `json:"level"`
	// SafeToAutoRun is true only for an unmodified safe-table hit. A safe
	// program combined with a write indicator (shell redirection, in-place
	// edit flag) is not safe to auto-run.
	SafeToAutoRun bool     `json:"safe_to_auto_run"`
	Explanation   string   `json:"explanation"`
	Concerns      []string `json:"concerns,omitempty"`
	Category      Category `json:"-"`
	// Command is the joined command string that was analyzed.
	Command string `json:"command"`
}

// dangerousPattern pairs a substring with the reason it is blocked.
type dangerousPattern struct {
	pattern string
	reason  string
}

// dangerousPatterns is checked by substring against the joined command.
// A hit is Critical regardless of any other property of the command.
var dangerousPatterns = []dangerousPattern{
	{"rm -rf /", "recursive force delete of the filesystem root"},
	{"rm -rf ~", "recursive force delete of the home directory"},
	{"rm -rf $HOME", "recursive force delete of the home directory"},
	{"rm -fr /", "recursive force delete of the filesystem root"},
	{"mkfs", "filesystem formatting"},
	{"dd if=/dev", "raw read from a block device"},
	{"dd of=/dev", "raw write to a block device"},
	{"> /dev/sd", "direct write to a disk device"},
	{"> /dev/nvme", "direct write to a disk device"},
	{"wipefs", "disk signature wipe"},
	{"blkdiscard", "block device discard"},
	{":(){:|:&};:", "fork bomb"},
	{":(){ :|:& };:", "fork bomb"},
	{"chmod -R 777 /", "recursive permission change on the filesystem root"},
	{"format c:", "disk format"},
}

// criticalPrograms halt or repartition the machine. Matched against argv[0]
// (basename) and, for init, the first argument as well.
var criticalPrograms = map[string]string{
	"shutdown": "system shutdown",
	"reboot":   "system reboot",
	"halt":     "system halt",
	"poweroff": "system poweroff",
	"fdisk":    "disk partitioning",
	"gdisk":    "disk partitioning",
	"parted":   "disk partitioning",
	"shred":    "secure file destruction",
}

// shellInterpreters are used to spot download-to-shell pipelines.
var shellInterpreters = []string{"bash", "sh", "zsh", "dash", "ksh"}

// downloaders that make a pipe into a shell remote code execution.
var downloaders = []string{"curl", "wget", "fetch"}

// safePrograms run without side effects when invoked without redirection.
var safePrograms = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "less": true,
	"more": true, "grep": true, "rg": true, "find": true, "pwd": true,
	"whoami": true, "date": true, "uname": true, "ps": true, "df": true,
	"du": true, "wc": true, "echo": true, "printf": true, "env": true,
	"printenv": true, "which": true, "type": true, "file": true,
	"stat": true, "basename": true, "dirname": true,
}

// safeGitPrefixes are read-only git invocations.
var safeGitPrefixes = []string{
	"git status", "git log", "git diff", "git branch", "git show",
}

// writeIndicators are textual hints that an otherwise safe command writes
// somewhere. This is a deliberately conservative approximation: a literal
// ">" inside a quoted argument will still downgrade the command. It is not
// a defense against adversarial shell quoting.
var writeIndicators = []string{
	">", "| tee", "|tee", "tee ", "sed -i", "perl -i", "dd of=", "truncate ",
}

// mutatingGitSubcommands change repository or remote state.
var mutatingGitSubcommands = map[string]bool{
	"push": true, "commit": true, "reset": true, "rebase": true,
	"merge": true, "checkout": true, "restore": true, "clean": true,
	"rm": true, "mv": true, "revert": true, "cherry-pick": true,
	"stash": true, "am": true, "tag": true,
}

// buildPrograms run project builds; they touch project files only.
var buildPrograms = map[string]bool{
	"make": true, "cmake": true, "ninja": true, "gradle": true,
	"mvn": true, "ant": true,
}

// packageManagers combined with one of packageManagerVerbs classify as Low.
var packageManagers = map[string]bool{
	"npm": true, "yarn": true, "pnpm": true, "pip": true, "pip3": true,
	"cargo": true, "go": true, "gem": true, "bundle": true, "composer": true,
}

var packageManagerVerbs = map[string]bool{
	"install": true, "build": true, "run": true, "test": true, "ci": true,
	"add": true, "vet": true, "fmt": true,
}

// Classify analyzes a command given as an argv slice. The precedence of the
// checks is fixed: dangerous patterns win over everything, then the safe
// table (with the write-indicator downgrade), then git mutations, write
// indicators, build tooling, and finally a conservative default.
func Classify(command []string) Assessment {
	joined := strings.Join(command, " ")

	if len(command) == 0 {
		return Assessment{
			Level:         Safe,
			SafeToAutoRun: false,
			Explanation:   "empty command, nothing to run",
			Command:       joined,
		}
	}

	program := baseName(command[0])

	if a, ok := classifyDangerous(command, program, joined); ok {
		return a
	}

	// sudo escalates whatever it wraps to at least High.
	if program == "sudo" && len(command) > 1 {
		inner := Classify(command[1:])
		level := inner.Level
		if level < High {
			level = High
		}
		return Assessment{
			Level:       level,
			Explanation: fmt.Sprintf("elevated privileges: sudo %s", baseName(command[1])),
			Concerns:    append([]string{"runs with root privileges"}, inner.Concerns...),
			Category:    inner.Category,
			Command:     joined,
		}
	}

	if a, ok := classifySafeTable(command, program, joined); ok {
		return a
	}

	if a, ok := classifyGit(command, program, joined); ok {
		return a
	}

	if ind, ok := findWriteIndicator(joined); ok {
		return Assessment{
			Level:       Medium,
			Explanation: fmt.Sprintf("write indicator %q present", ind),
			Concerns:    []string{fmt.Sprintf("command writes via %q", ind)},
			Category:    CategoryFileSystem,
			Command:     joined,
		}
	}

	if a, ok := classifyBuild(command, program, joined); ok {
		return a
	}

	return Assessment{
		Level:       Medium,
		Explanation: fmt.Sprintf("unknown command %q, conservative default", program),
		Concerns:    []string{"command not in any known table"},
		Category:    CategoryUnknown,
		Command:     joined,
	}
}

func classifyDangerous(command []string, program, joined string) (Assessment, bool) {
	for _, dp := range dangerousPatterns {
		if strings.Contains(joined, dp.pattern) {
			return Assessment{
				Level:       Critical,
				Explanation: fmt.Sprintf("dangerous pattern %q: %s", dp.pattern, dp.reason),
				Concerns:    []string{dp.reason},
				Category:    CategoryDangerous,
				Command:     joined,
			}, true
		}
	}

	if reason, ok := criticalPrograms[program]; ok {
		return Assessment{
			Level:       Critical,
			Explanation: fmt.Sprintf("dangerous program %q: %s", program, reason),
			Concerns:    []string{reason},
			Category:    CategoryDangerous,
			Command:     joined,
		}, true
	}

	if program == "init" && len(command) > 1 && (command[1] == "0" || command[1] == "6") {
		return Assessment{
			Level:       Critical,
			Explanation: fmt.Sprintf("dangerous program \"init %s\": system state change", command[1]),
			Concerns:    []string{"system state change"},
			Category:    CategoryDangerous,
			Command:     joined,
		}, true
	}

	// Download piped into an interpreter is remote code execution.
	if isDownloader(program) && strings.Contains(joined, "|") {
		for _, sh := range shellInterpreters {
			if strings.Contains(joined, "| "+sh) || strings.Contains(joined, "|"+sh) {
				reason := fmt.Sprintf("%s output piped to %s", program, sh)
				return Assessment{
					Level:       Critical,
					Explanation: "remote code execution: " + reason,
					Concerns:    []string{reason},
					Category:    CategoryDangerous,
					Command:     joined,
				}, true
			}
		}
	}

	return Assessment{}, false
}

func classifySafeTable(command []string, program, joined string) (Assessment, bool) {
	matched := ""
	if safePrograms[program] {
		matched = program
	} else if program == "git" {
		for _, prefix := range safeGitPrefixes {
			if joined == prefix || strings.HasPrefix(joined, prefix+" ") {
				matched = prefix
				break
			}
		}
	}
	if matched == "" {
		return Assessment{}, false
	}

	// A safe program can still be made destructive by shell redirection, so
	// the write-indicator check applies even after a safe-table hit.
	if ind, ok := findWriteIndicator(joined); ok {
		return Assessment{
			Level:       Medium,
			Explanation: fmt.Sprintf("safe command %q combined with write indicator %q", matched, ind),
			Concerns:    []string{fmt.Sprintf("output redirection or in-place edit via %q", ind)},
			Category:    CategoryFileSystem,
			Command:     joined,
		}, true
	}

	return Assessment{
		Level:         Safe,
		SafeToAutoRun: true,
		Explanation:   fmt.Sprintf("read-only command %q", matched),
		Category:      CategoryReadOnly,
		Command:       joined,
	}, true
}

func classifyGit(command []string, program, joined string) (Assessment, bool) {
	if program != "git" || len(command) < 2 {
		return Assessment{}, false
	}
	sub := command[1]
	if !mutatingGitSubcommands[sub] {
		return Assessment{}, false
	}

	level := Medium
	explanation := fmt.Sprintf("git %s mutates repository state", sub)
	concerns := []string{explanation}
	for _, arg := range command[2:] {
		if arg == "--force" || arg == "-f" || arg == "--force-with-lease" {
			level = High
			concern := fmt.Sprintf("force flag %q on git %s", arg, sub)
			explanation = concern
			concerns = append(concerns, concern)
			break
		}
	}

	return Assessment{
		Level:       level,
		Explanation: explanation,
		Concerns:    concerns,
		Category:    CategoryGit,
		Command:     joined,
	}, true
}

func classifyBuild(command []string, program, joined string) (Assessment, bool) {
	if buildPrograms[program] {
		return Assessment{
			Level:       Low,
			Explanation: fmt.Sprintf("build command %q", program),
			Category:    CategoryBuild,
			Command:     joined,
		}, true
	}

	if packageManagers[program] && len(command) > 1 && packageManagerVerbs[command[1]] {
		return Assessment{
			Level:       Low,
			Explanation: fmt.Sprintf("package manager command %q", program+" "+command[1]),
			Category:    CategoryPackageManager,
			Command:     joined,
		}, true
	}

	return Assessment{}, false
}

func findWriteIndicator(joined string) (string, bool) {
	for _, ind := range writeIndicators {
		if strings.Contains(joined, ind) {
			return strings.TrimSpace(ind), true
		}
	}
	return "", false
}

func isDownloader(program string) bool {
	for _, d := range downloaders {
		if program == d {
			return true
		}
	}
	return false
}

// HasCommandSubstitution reports whether the joined command contains shell
// command substitution, which always escalates to a user prompt because the
// substituted text cannot be classified.
func HasCommandSubstitution(command []string) bool {
	joined := strings.Join(command, " ")
	return strings.Contains(joined, "$(") || strings.Contains(joined, "`")
}

func baseName(program string) string {
	if i := strings.LastIndexByte(program, '/'); i >= 0 {
		return program[i+1:]
	}
	return program
}
