// Package redact strips credential-shaped tokens from text before it is
// written to logs or the audit trail. The command itself is never modified;
// only its logged representation is.
package redact

import "regexp"

const placeholder = "[REDACTED]"

type pattern struct {
	name string
	re   *regexp.Regexp
}

var patterns = []pattern{
	{"aws-access-key", regexp.MustCompile(`(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`)},
	{"openai-key", regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{32,}`)},
	{"anthropic-key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9_\-]{20,}`)},
	{"google-key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"github-token", regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`)},
	{"slack-token", regexp.MustCompile(`xox[bpa]-[0-9A-Za-z\-]{10,}`)},
	{"bearer-token", regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._\-]{16,}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY( BLOCK)?-----`)},
	{"env-secret", regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:TOKEN|SECRET|PASSWORD|API_?KEY)[A-Z0-9_]*)=\S+`)},
}

// String returns s with every recognized credential replaced.
func String(s string) string {
	for _, p := range patterns {
		switch p.name {
		case "bearer-token":
			s = p.re.ReplaceAllString(s, "${1}"+placeholder)
		case "env-secret":
			s = p.re.ReplaceAllString(s, "${1}="+placeholder)
		default:
			s = p.re.ReplaceAllString(s, placeholder)
		}
	}
	return s
}

// Command redacts each argument of an argv slice independently, returning a
// copy safe for display and logging.
func Command(command []string) []string {
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = String(arg)
	}
	return out
}

// Contains reports whether s holds anything that would be redacted.
func Contains(s string) bool {
	for _, p := range patterns {
		if p.re.MatchString(s) {
			return true
		}
	}
	return false
}
