package safety

import (
	"time"

	"github.com/gateline/gateline/internal/rules"
)

// detector is one fixed ad-hoc check, independent of the rule set.
type detector struct {
	name        string
	description string
	severity    rules.Severity
	penalty     int
	matcher     *rules.Matcher
}

// injectionDetectors flag shell-style command injection. All are HIGH; the
// penalties mirror how directly each form executes code.
var injectionDetectors = []detector{
	{"command_injection", "Command injection attempt: Command chaining", rules.SeverityHigh, 200, rules.MustCompile(`re:;\s*\w+`)},
	{"command_injection", "Command injection attempt: Pipe command", rules.SeverityHigh, 200, rules.MustCompile(`re:\|\s*\w+`)},
	{"command_injection", "Command injection attempt: AND command", rules.SeverityHigh, 200, rules.MustCompile(`re:&&\s*\w+`)},
	{"command_injection", "Command injection attempt: OR command", rules.SeverityHigh, 200, rules.MustCompile(`re:\|\|\s*\w+`)},
	{"command_injection", "Command injection attempt: Command substitution", rules.SeverityHigh, 300, rules.MustCompile("re:`.*`")},
	{"command_injection", "Command injection attempt: Command execution", rules.SeverityHigh, 300, rules.MustCompile(`re:\$\s*\(.*\)`)},
	{"command_injection", "Command injection attempt: Eval function", rules.SeverityHigh, 400, rules.MustCompile(`re:eval\s*\(.*\)`)},
	{"command_injection", "Command injection attempt: Exec function", rules.SeverityHigh, 400, rules.MustCompile(`re:exec\s*\(.*\)`)},
	{"command_injection", "Command injection attempt: System call", rules.SeverityHigh, 500, rules.MustCompile(`re:system\s*\(.*\)`)},
}

// systemCallTable maps dangerous command substrings to penalties. Entries
// with a penalty of 500 or more are treated as critical.
var systemCallTable = []struct {
	token       string
	description string
	penalty     int
}{
	{"sudo", "Privilege escalation", 600},
	{"chmod 777", "Permission change", 400},
	{"chown root", "Ownership change", 400},
	{"dd if=", "Disk operations", 500},
	{"mkfs", "Filesystem creation", 500},
	{"fdisk", "Partition operations", 500},
	{"shutdown", "System shutdown", 300},
	{"reboot", "System reboot", 300},
	{"kill -9", "Process termination", 300},
	{"rm -rf /", "Root deletion", 1000},
}

// syscallCriticalPenalty is the penalty at or above which a system-call
// match is classified critical rather than high.
const syscallCriticalPenalty = 500

var systemCallDetectors = buildSystemCallDetectors()

func buildSystemCallDetectors() []detector {
	out := make([]detector, 0, len(systemCallTable))
	for _, e := range systemCallTable {
		sev := rules.SeverityHigh
		if e.penalty >= syscallCriticalPenalty {
			sev = rules.SeverityCritical
		}
		out = append(out, detector{
			name:        "system_call",
			description: "Dangerous system call: " + e.description,
			severity:    sev,
			penalty:     e.penalty,
			matcher:     rules.MustCompile(e.token),
		})
	}
	return out
}

// misleadingDetectors run only in output mode: absolute-certainty language,
// unverifiable-trust phrasing, and secrecy language.
var misleadingDetectors = []detector{
	{"misleading_output", "Overconfidence", rules.SeverityLow, 100, rules.MustCompile(`re:\b(100% guaranteed|no risk|completely safe)\b`)},
	{"misleading_output", "Unverifiable claims", rules.SeverityLow, 50, rules.MustCompile(`re:\b(trust me|believe me|i promise)\b`)},
	{"misleading_output", "Secretive behavior", rules.SeverityLow, 150, rules.MustCompile(`re:\b(secret|hidden|confidential|not public)\b`)},
}

// runDetectors returns a violation for every detector whose pattern occurs
// in text.
func runDetectors(detectors []detector, text string, now time.Time) []Violation {
	var out []Violation
	for _, d := range detectors {
		if d.matcher.Match(text) {
			out = append(out, Violation{
				Rule:        d.name,
				Severity:    d.severity,
				Penalty:     d.penalty,
				Description: d.description,
				Timestamp:   now,
			})
		}
	}
	return out
}
