// Package sanitizer is the last gate before text leaves the pipeline:
// sensitive-data redaction, a dangerous-phrase block list, system-command
// masking, and a length cap.
package sanitizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/rules"
)

var log = logger.New("sanitizer")

// MaxOutputLen is the cap on outbound text, in runes; longer output is
// truncated.
const MaxOutputLen = 5000

// truncationMarker is appended to truncated output.
const truncationMarker = "... [TRUNCATED]"

// commandPlaceholder replaces system-command tokens in place.
const commandPlaceholder = "[COMMAND_REDACTED]"

// previewLen truncates the original-text preview on blocked results.
const previewLen = 100

// dangerousPhrases block the output outright. This check runs on the
// redacted text and takes precedence over every modification.
var dangerousPhrases = []string{
	"kill yourself", "harm yourself", "hurt someone",
	"build a bomb", "make poison", "hack into",
	"steal from", "cheat on", "bypass security",
}

// systemCommands are masked, not blocked.
var systemCommands = []string{"sudo", "rm -rf", "format", "del ", "shutdown"}

// Result is the outcome of one Sanitize call. When Safe is false the
// output must not be released; Reason names the phrases that blocked it.
type Result struct {
	Safe           bool   `json:"safe"`
	Output         string `json:"output,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Preview        string `json:"original,omitempty"`
	OriginalLength int    `json:"original_length"`
	FinalLength    int    `json:"final_length"`
	Modifications  string `json:"modifications"`
}

// Stats is a snapshot of sanitizer counters.
type Stats struct {
	Total      uint64  `json:"total_outputs"`
	Safe       uint64  `json:"safe_outputs"`
	Modified   uint64  `json:"modified_outputs"`
	Blocked    uint64  `json:"blocked_outputs"`
	SafetyRate float64 `json:"safety_rate"`
}

// Sanitizer redacts and screens outbound text. Safe for concurrent use.
type Sanitizer struct {
	set *rules.Set

	mu       sync.Mutex
	total    uint64
	safe     uint64
	modified uint64
	blocked  uint64
}

// New creates a Sanitizer using the rule set's redaction table.
func New(set *rules.Set) *Sanitizer {
	return &Sanitizer{set: set}
}

// Sanitize validates and rewrites one piece of outbound text.
func (s *Sanitizer) Sanitize(output string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	modifications := 0

	redacted, changed := s.set.Redact(output)
	if changed {
		modifications++
	}

	var matched []string
	lower := strings.ToLower(redacted)
	for _, phrase := range dangerousPhrases {
		if strings.Contains(lower, phrase) {
			matched = append(matched, phrase)
		}
	}
	if len(matched) > 0 {
		s.blocked++
		log.Warn("Blocked output: dangerous phrases %v", matched)
		return Result{
			Reason:         "dangerous phrases: " + strings.Join(matched, ", "),
			Preview:        truncateRunes(output, previewLen),
			OriginalLength: utf8.RuneCountInString(output),
		}
	}

	for _, cmd := range systemCommands {
		if replaced := replaceFold(redacted, cmd, commandPlaceholder); replaced != redacted {
			redacted = replaced
			modifications++
		}
	}

	if utf8.RuneCountInString(redacted) > MaxOutputLen {
		redacted = truncateRunes(redacted, MaxOutputLen) + truncationMarker
		modifications++
	}

	s.safe++
	if modifications > 0 {
		s.modified++
	}

	tag := "none"
	if redacted != output {
		tag = "redacted"
	}
	return Result{
		Safe:           true,
		Output:         redacted,
		OriginalLength: utf8.RuneCountInString(output),
		FinalLength:    utf8.RuneCountInString(redacted),
		Modifications:  tag,
	}
}

// Stats returns a snapshot of sanitizer counters.
func (s *Sanitizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Total:      s.total,
		Safe:       s.safe,
		Modified:   s.modified,
		Blocked:    s.blocked,
		SafetyRate: float64(s.safe) / float64(max(s.total, 1)),
	}
}

// truncateRunes shortens s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// replaceFold replaces every case-insensitive occurrence of token in text.
func replaceFold(text, token, replacement string) string {
	lower := strings.ToLower(text)
	token = strings.ToLower(token)

	var b strings.Builder
	for {
		i := strings.Index(lower, token)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i])
		b.WriteString(replacement)
		text = text[i+len(token):]
		lower = lower[i+len(token):]
	}
}
