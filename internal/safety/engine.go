// Package safety implements the penalty-scoring core of the pipeline. An
// Engine matches text against the rule set and two fixed detector families,
// accumulates a decaying safety score alongside a lifetime penalty sum, and
// resolves an escalating action for every check.
package safety

import (
	"math"
	"sync"
	"time"

	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/rules"
)

var log = logger.New("safety")

// initialScore is the safety score of a fresh (or freshly reset) engine.
const initialScore = 100.0

// scoreDecayDivisor controls how hard a call's penalty decays the score:
// score *= exp(-penalty/scoreDecayDivisor).
const scoreDecayDivisor = 1000.0

// violationLogCap bounds the engine's violation log. Severity counters keep
// Status exact after eviction.
const violationLogCap = 4096

// Violation is one recorded rule or detector match.
type Violation struct {
	Rule        string         `json:"rule"`
	Severity    rules.Severity `json:"severity"`
	Penalty     int            `json:"penalty"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Verdict is the outcome of one check call.
type Verdict struct {
	Safe        bool        `json:"safe"`
	Violations  []Violation `json:"violations"`
	Penalty     int         `json:"total_penalty"`
	Action      Action      `json:"action"`
	SafetyScore float64     `json:"safety_score"`
	Checks      uint64      `json:"checks_performed"`
}

// Status is a snapshot of engine state.
type Status struct {
	SafetyScore        float64    `json:"safety_score"`
	CumulativePenalty  int        `json:"total_penalty"`
	TotalViolations    uint64     `json:"total_violations"`
	CriticalViolations uint64     `json:"critical_violations"`
	HighViolations     uint64     `json:"high_violations"`
	Checks             uint64     `json:"checks_performed"`
	Thresholds         Thresholds `json:"thresholds"`
	State              string     `json:"system_status"`
}

// Thresholds reports the fixed escalation thresholds.
type Thresholds struct {
	CriticalViolations int     `json:"critical_violations"`
	TotalPenalty       int     `json:"total_penalty"`
	SafetyScore        float64 `json:"safety_score"`
}

// ResetReceipt carries the pre-reset values for audit purposes.
type ResetReceipt struct {
	OldScore          float64   `json:"old_score"`
	OldPenalty        int       `json:"old_penalty"`
	ViolationsCleared uint64    `json:"violations_cleared"`
	When              time.Time `json:"reset_time"`
}

// Engine owns the mutable safety state. One mutex covers the whole
// read-modify-write of a check so the violation log, cumulative penalty,
// and score always move together.
type Engine struct {
	mu  sync.Mutex
	set *rules.Set

	score      float64
	cumulative int
	violations []Violation
	totalViol  uint64
	sevCounts  map[rules.Severity]uint64
	checks     uint64
}

// NewEngine creates an engine over the given rule set with a perfect score.
func NewEngine(set *rules.Set) *Engine {
	return &Engine{
		set:       set,
		score:     initialScore,
		sevCounts: make(map[rules.Severity]uint64),
	}
}

// CheckInput checks inbound text and resolves an action.
func (e *Engine) CheckInput(text string) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check(text, false)
}

// CheckOutput checks outbound text. It runs the same procedure as
// CheckInput, then layers the misleading-claim detectors on top; any
// misleading match forces Safe to false but does not change the resolved
// action.
func (e *Engine) CheckOutput(text string) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check(text, true)
}

// check runs one full rule-matching pass. Caller must hold e.mu.
func (e *Engine) check(text string, outputMode bool) Verdict {
	e.checks++
	now := time.Now()

	var violations []Violation
	for _, r := range e.set.Match(text) {
		violations = append(violations, Violation{
			Rule:        r.Name,
			Severity:    r.Severity,
			Penalty:     r.Penalty,
			Description: r.Description,
			Timestamp:   now,
		})
	}
	violations = append(violations, runDetectors(injectionDetectors, text, now)...)
	violations = append(violations, runDetectors(systemCallDetectors, text, now)...)

	penalty := 0
	for _, v := range violations {
		penalty += v.Penalty
	}

	if len(violations) > 0 {
		e.apply(violations, penalty)
	}

	action := resolveAction(violations, e.cumulative, e.score)
	safe := len(violations) == 0

	if outputMode {
		misleading := runDetectors(misleadingDetectors, text, now)
		if len(misleading) > 0 {
			misleadingPenalty := 0
			for _, v := range misleading {
				misleadingPenalty += v.Penalty
			}
			e.apply(misleading, misleadingPenalty)
			violations = append(violations, misleading...)
			penalty += misleadingPenalty
			safe = false
		}
	}

	if action.Kind == ActionShutdown {
		log.Error("Critical violation: action=shutdown penalty=%d score=%.2f", penalty, e.score)
	} else if !safe {
		log.Warn("Violations=%d action=%s penalty=%d score=%.2f",
			len(violations), action.Kind, penalty, e.score)
	}

	return Verdict{
		Safe:        safe,
		Violations:  violations,
		Penalty:     penalty,
		Action:      action,
		SafetyScore: e.score,
		Checks:      e.checks,
	}
}

// apply records violations and moves both penalty signals: the lifetime
// sum grows by the call penalty while the score decays exponentially on
// the call penalty alone. Neither signal is derived from the other.
// Caller must hold e.mu.
func (e *Engine) apply(violations []Violation, penalty int) {
	for _, v := range violations {
		if len(e.violations) >= violationLogCap {
			copy(e.violations, e.violations[1:])
			e.violations[len(e.violations)-1] = v
		} else {
			e.violations = append(e.violations, v)
		}
		e.totalViol++
		e.sevCounts[v.Severity]++
	}
	e.cumulative += penalty

	e.score *= math.Exp(-float64(penalty) / scoreDecayDivisor)
	if e.score < 0 {
		e.score = 0
	}
}

// Status returns a snapshot of engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// statusLocked builds the status snapshot. Caller must hold e.mu.
func (e *Engine) statusLocked() Status {
	state := "operational"
	if e.score <= scoreThreshold {
		state = "restricted"
	}
	return Status{
		SafetyScore:        math.Round(e.score*100) / 100,
		CumulativePenalty:  e.cumulative,
		TotalViolations:    e.totalViol,
		CriticalViolations: e.sevCounts[rules.SeverityCritical],
		HighViolations:     e.sevCounts[rules.SeverityHigh],
		Checks:             e.checks,
		Thresholds: Thresholds{
			CriticalViolations: criticalThreshold,
			TotalPenalty:       penaltyThreshold,
			SafetyScore:        scoreThreshold,
		},
		State: state,
	}
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() []rules.Rule {
	return e.set.Rules()
}

// Violations returns a copy of the violation log, oldest first.
func (e *Engine) Violations() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.violationsLocked()
}

// violationsLocked copies the violation log. Caller must hold e.mu.
func (e *Engine) violationsLocked() []Violation {
	return append([]Violation(nil), e.violations...)
}

// Reset atomically restores the score to 100, the cumulative penalty to
// zero, and clears the violation log. The prior values are returned for
// audit. Callers must treat this as privileged; the engine itself performs
// no authorization.
func (e *Engine) Reset() ResetReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	receipt := ResetReceipt{
		OldScore:          e.score,
		OldPenalty:        e.cumulative,
		ViolationsCleared: e.totalViol,
		When:              time.Now(),
	}

	e.score = initialScore
	e.cumulative = 0
	e.violations = nil
	e.totalViol = 0
	e.sevCounts = make(map[rules.Severity]uint64)

	log.Warn("Safety state reset: old score=%.2f old penalty=%d", receipt.OldScore, receipt.OldPenalty)
	return receipt
}
