// Package validator screens raw input before it reaches any rule engine:
// size and structure checks, suspicious substrings, and a cheap gibberish
// heuristic. It is the first gate of the pipeline.
package validator

import (
	"encoding/json"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/gateline/gateline/internal/logger"
)

var log = logger.New("validator")

// MaxInputLen is the hard limit on normalized input length, in runes.
const MaxInputLen = 10000

// minGibberishLen exempts short inputs from the alphanumeric-ratio check.
const minGibberishLen = 10

// minAlnumRatio is the minimum alphanumeric-to-total ratio for long inputs.
const minAlnumRatio = 0.3

// Code identifies why validation failed.
type Code string

const (
	CodeEmpty      Code = "empty"
	CodeOversized  Code = "oversized"
	CodeSuspicious Code = "suspicious"
	CodeMalformed  Code = "malformed"
	CodeGibberish  Code = "gibberish"
)

// Result is the outcome of one Validate call. Valid results carry the
// normalized input; invalid results carry a code and human-readable reason.
type Result struct {
	Valid      bool   `json:"valid"`
	Code       Code   `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Normalized string `json:"normalized,omitempty"`
	CheckID    uint64 `json:"check_id"`
}

// defaultSuspicious is the fixed substring screen. Matching is
// case-insensitive and deliberately not rule-weighted: any hit rejects.
var defaultSuspicious = []string{
	"<!--", "-->",
	"<script>", "</script>",
	"javascript:",
	"onerror=", "onclick=",
	"../", "~/",
	"||", "&&",
	"`", "$(",
}

// Validator screens raw input. Each instance owns its counters; safe for
// concurrent use.
type Validator struct {
	mu         sync.Mutex
	suspicious []string

	total   uint64
	valid   uint64
	invalid uint64
	susp    uint64
}

// Stats is a snapshot of validator counters.
type Stats struct {
	Total           uint64  `json:"total_inputs"`
	Valid           uint64  `json:"valid_inputs"`
	Invalid         uint64  `json:"invalid_inputs"`
	Suspicious      uint64  `json:"suspicious_inputs"`
	ValidityRate    float64 `json:"validity_rate"`
	PatternsChecked int     `json:"patterns_checked"`
}

// New creates a Validator with the default suspicious-pattern screen.
func New() *Validator {
	return &Validator{suspicious: append([]string(nil), defaultSuspicious...)}
}

// Validate checks one raw input. The returned CheckID is a monotonically
// increasing correlation id scoped to this validator.
func (v *Validator) Validate(raw string) Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.total++
	id := v.total

	normalized := strings.TrimSpace(norm.NFKC.String(raw))

	if len(normalized) == 0 {
		v.invalid++
		return Result{Code: CodeEmpty, Reason: "input is empty", CheckID: id}
	}
	if utf8.RuneCountInString(normalized) > MaxInputLen {
		v.invalid++
		return Result{Code: CodeOversized, Reason: "input exceeds size limit", CheckID: id}
	}

	lower := strings.ToLower(normalized)
	var found []string
	for _, pattern := range v.suspicious {
		if strings.Contains(lower, pattern) {
			found = append(found, pattern)
		}
	}
	if len(found) > 0 {
		v.susp++
		log.Debug("Rejected input %d: suspicious patterns %v", id, found)
		return Result{
			Code:    CodeSuspicious,
			Reason:  "suspicious patterns: " + strings.Join(found, ", "),
			CheckID: id,
		}
	}

	if strings.HasPrefix(normalized, "{") || strings.HasPrefix(normalized, "[") {
		if !json.Valid([]byte(normalized)) {
			v.invalid++
			return Result{Code: CodeMalformed, Reason: "malformed JSON structure", CheckID: id}
		}
	}

	if isGibberish(normalized) {
		v.invalid++
		return Result{Code: CodeGibberish, Reason: "input appears to be gibberish", CheckID: id}
	}

	v.valid++
	return Result{Valid: true, Normalized: normalized, CheckID: id}
}

// ValidateBatch validates inputs in order and returns one result per input.
func (v *Validator) ValidateBatch(inputs []string) []Result {
	results := make([]Result, len(inputs))
	for i, in := range inputs {
		results[i] = v.Validate(in)
	}
	return results
}

// AddPattern registers an extra suspicious substring. Returns false if the
// pattern is already present.
func (v *Validator) AddPattern(pattern string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	pattern = strings.ToLower(pattern)
	for _, p := range v.suspicious {
		if p == pattern {
			return false
		}
	}
	v.suspicious = append(v.suspicious, pattern)
	return true
}

// Stats returns a snapshot of the validator counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	rate := float64(v.valid) / float64(max(v.total, 1))
	return Stats{
		Total:           v.total,
		Valid:           v.valid,
		Invalid:         v.invalid,
		Suspicious:      v.susp,
		ValidityRate:    rate,
		PatternsChecked: len(v.suspicious),
	}
}

// isGibberish flags text whose alphanumeric share is below minAlnumRatio.
// Inputs shorter than minGibberishLen are exempt.
func isGibberish(text string) bool {
	runes := []rune(text)
	if len(runes) < minGibberishLen {
		return false
	}
	alnum := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum)/float64(len(runes)) < minAlnumRatio
}
