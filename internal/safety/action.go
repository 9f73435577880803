package safety

import (
	"fmt"

	"github.com/gateline/gateline/internal/rules"
)

// ActionKind is the engine's verdict for one check.
type ActionKind string

const (
	ActionAllow    ActionKind = "allow"
	ActionRestrict ActionKind = "restrict"
	ActionBlock    ActionKind = "block"
	ActionShutdown ActionKind = "shutdown"
)

// Action is the resolved verdict plus any restrictions it imposes. Actions
// are computed fresh per check and never persisted.
type Action struct {
	Kind         ActionKind `json:"kind"`
	Message      string     `json:"message"`
	Restrictions []string   `json:"restrictions"`
}

// Escalation thresholds. A single critical violation in one call is enough
// for shutdown, independent of history.
const (
	criticalThreshold = 1
	penaltyThreshold  = 2000
	scoreThreshold    = 20.0
)

// restrictionOrder fixes the order restriction tags appear in, so verdicts
// are deterministic for identical inputs.
var restrictionOrder = []string{
	"input_sanitized", "output_filtered", "log_intensive",
	"input_verified", "output_monitored",
	"monitor_only",
}

var severityRestrictions = map[rules.Severity][]string{
	rules.SeverityHigh:   {"input_sanitized", "output_filtered", "log_intensive"},
	rules.SeverityMedium: {"input_verified", "output_monitored"},
	rules.SeverityLow:    {"monitor_only"},
}

// resolveAction evaluates the escalating gates in order: per-call critical
// count, lifetime cumulative penalty, decayed safety score, then per-severity
// restrictions for any remaining violations.
func resolveAction(violations []Violation, cumulativePenalty int, score float64) Action {
	if len(violations) == 0 {
		return Action{Kind: ActionAllow, Message: "input safe", Restrictions: []string{}}
	}

	critical := 0
	for _, v := range violations {
		if v.Severity == rules.SeverityCritical {
			critical++
		}
	}
	if critical >= criticalThreshold {
		return Action{
			Kind:         ActionShutdown,
			Message:      "critical safety violation detected",
			Restrictions: []string{"system_shutdown", "memory_lock", "network_disconnect"},
		}
	}

	if cumulativePenalty >= penaltyThreshold {
		return Action{
			Kind:         ActionBlock,
			Message:      "cumulative penalty threshold exceeded",
			Restrictions: []string{"input_blocked", "output_restricted", "learning_paused"},
		}
	}

	if score <= scoreThreshold {
		return Action{
			Kind:         ActionRestrict,
			Message:      "safety score too low",
			Restrictions: []string{"limited_functionality", "supervision_required"},
		}
	}

	wanted := make(map[string]bool)
	for _, v := range violations {
		for _, r := range severityRestrictions[v.Severity] {
			wanted[r] = true
		}
	}
	restrictions := make([]string, 0, len(wanted))
	for _, r := range restrictionOrder {
		if wanted[r] {
			restrictions = append(restrictions, r)
		}
	}

	return Action{
		Kind:         ActionRestrict,
		Message:      fmt.Sprintf("%d violations detected", len(violations)),
		Restrictions: restrictions,
	}
}
