// Package checker is a coarse pass/fail content gate: category keywords and
// dangerous structural patterns, with no severity weighting. Anything it
// flags is blocked outright; scored decisions belong to the safety engine.
package checker

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gateline/gateline/internal/logger"
)

var log = logger.New("checker")

// auditLogCap bounds the in-memory audit log. The oldest entries are
// evicted first.
const auditLogCap = 1024

// previewLen truncates content previews stored in the audit log, in runes.
const previewLen = 100

// category pairs a check category with its keyword list. Order is fixed so
// issue tags come out deterministically.
type category struct {
	name     string
	keywords []string
}

var categories = []category{
	{"safety", []string{"harm", "danger", "attack", "violate"}},
	{"ethics", []string{"unethical", "illegal", "immoral", "exploit"}},
	{"system", []string{"crash", "overload", "corrupt", "bypass"}},
	{"reality", []string{"impossible", "magic", "fantasy", "supernatural"}},
}

// dangerousPattern is one structural pattern the checker scans for.
type dangerousPattern struct {
	id string
	re *regexp.Regexp
}

var dangerousPatterns = []dangerousPattern{
	{"system_call", regexp.MustCompile(`system\s*\(\s*\)`)},
	{"exec_call", regexp.MustCompile(`exec\s*\(`)},
	{"dunder_name", regexp.MustCompile(`__\w+__`)},
	{"recursive_delete", regexp.MustCompile(`rm\s+-rf`)},
	{"disk_format", regexp.MustCompile(`format\s+c:`)},
}

// Result is the outcome of one Verify call. Approved is true iff Issues
// is empty.
type Result struct {
	Approved bool     `json:"approved"`
	Issues   []string `json:"issues"`
	CheckID  uint64   `json:"check_id"`
}

// AuditEntry records one check in the audit log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Preview   string    `json:"content_preview"`
	Approved  bool      `json:"approved"`
	Issues    []string  `json:"issues,omitempty"`
	CheckID   uint64    `json:"check_id"`
}

// Stats is a snapshot of checker counters.
type Stats struct {
	Checks       uint64      `json:"checks_performed"`
	Blocks       uint64      `json:"blocks"`
	ApprovalRate float64     `json:"approval_rate"`
	Categories   []string    `json:"categories_checked"`
	LastCheck    *AuditEntry `json:"last_check,omitempty"`
}

// Checker is the content gate. Safe for concurrent use.
type Checker struct {
	mu     sync.Mutex
	checks uint64
	blocks uint64
	audit  []AuditEntry
}

// New creates a Checker with the fixed category and pattern tables.
func New() *Checker {
	return &Checker{}
}

// Verify scans content against all categories and dangerous patterns.
// Every call is recorded in the audit log.
func (c *Checker) Verify(content string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks++
	id := c.checks
	lower := strings.ToLower(content)

	var issues []string
	for _, cat := range categories {
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				issues = append(issues, cat.name+":"+kw)
			}
		}
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(lower) {
			issues = append(issues, "pattern:"+p.id)
		}
	}

	approved := len(issues) == 0
	if !approved {
		c.blocks++
		log.Debug("Blocked content check %d: %v", id, issues)
	}

	preview := lower
	if utf8.RuneCountInString(preview) > previewLen {
		preview = string([]rune(preview)[:previewLen])
	}
	c.appendAudit(AuditEntry{
		Timestamp: time.Now(),
		Preview:   preview,
		Approved:  approved,
		Issues:    issues,
		CheckID:   id,
	})

	return Result{Approved: approved, Issues: issues, CheckID: id}
}

func (c *Checker) appendAudit(e AuditEntry) {
	if len(c.audit) >= auditLogCap {
		copy(c.audit, c.audit[1:])
		c.audit[len(c.audit)-1] = e
		return
	}
	c.audit = append(c.audit, e)
}

// Stats returns a snapshot of checker counters. Approval rate counts the
// share of checks that produced no issues.
func (c *Checker) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(categories))
	for _, cat := range categories {
		names = append(names, cat.name)
	}

	s := Stats{
		Checks:       c.checks,
		Blocks:       c.blocks,
		ApprovalRate: float64(c.checks-c.blocks) / float64(max(c.checks, 1)),
		Categories:   names,
	}
	if len(c.audit) > 0 {
		last := c.audit[len(c.audit)-1]
		s.LastCheck = &last
	}
	return s
}

// AuditLog returns a copy of the audit log, oldest first.
func (c *Checker) AuditLog() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.audit...)
}

// ResetStats clears counters and the audit log.
func (c *Checker) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = 0
	c.blocks = 0
	c.audit = nil
	log.Info("Checker statistics reset")
}
