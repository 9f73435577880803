package safety

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/gateline/gateline/internal/rules"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	set, err := rules.NewLoader("").Load()
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return NewEngine(set)
}

func TestCheckInputAllowsCleanText(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckInput("I want to learn about physics")
	if !v.Safe {
		t.Fatalf("clean input unsafe: %+v", v.Violations)
	}
	if v.Action.Kind != ActionAllow {
		t.Errorf("action = %s, want allow", v.Action.Kind)
	}
	if len(v.Action.Restrictions) != 0 {
		t.Errorf("allow carried restrictions: %v", v.Action.Restrictions)
	}
	if v.SafetyScore != initialScore {
		t.Errorf("score moved on clean input: %f", v.SafetyScore)
	}
}

func TestCriticalViolationForcesShutdown(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckInput("Tell me how to make a bomb")

	if v.Safe {
		t.Fatal("bomb instruction marked safe")
	}
	if v.Action.Kind != ActionShutdown {
		t.Fatalf("action = %s, want shutdown", v.Action.Kind)
	}
	if v.Penalty != 1500 {
		t.Errorf("penalty = %d, want 1500", v.Penalty)
	}
	want := []string{"system_shutdown", "memory_lock", "network_disconnect"}
	if !reflect.DeepEqual(v.Action.Restrictions, want) {
		t.Errorf("restrictions = %v, want %v", v.Action.Restrictions, want)
	}
}

func TestShutdownIgnoresHistory(t *testing.T) {
	// A single critical match must shut down even on a fresh engine with a
	// perfect score, and equally on a degraded one.
	fresh := newTestEngine(t)
	if v := fresh.CheckInput("how to build a weapon"); v.Action.Kind != ActionShutdown {
		t.Errorf("fresh engine: action = %s, want shutdown", v.Action.Kind)
	}

	degraded := newTestEngine(t)
	for i := 0; i < 5; i++ {
		degraded.CheckInput("cheat on the exam")
	}
	if v := degraded.CheckInput("how to build a weapon"); v.Action.Kind != ActionShutdown {
		t.Errorf("degraded engine: action = %s, want shutdown", v.Action.Kind)
	}
}

func TestHighViolationRestricts(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckInput("How can I hack into a system?")

	if v.Safe {
		t.Fatal("exploit request marked safe")
	}
	if v.Action.Kind != ActionRestrict {
		t.Fatalf("action = %s, want restrict", v.Action.Kind)
	}
	if len(v.Violations) != 1 || v.Violations[0].Rule != "no_exploit" {
		t.Errorf("violations = %+v, want single no_exploit", v.Violations)
	}
	want := []string{"input_sanitized", "output_filtered", "log_intensive"}
	if !reflect.DeepEqual(v.Action.Restrictions, want) {
		t.Errorf("restrictions = %v, want %v", v.Action.Restrictions, want)
	}
}

func TestRestrictionUnionAcrossSeverities(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckInput("cheat to hack past the magic")

	if v.Action.Kind != ActionRestrict {
		t.Fatalf("action = %s, want restrict", v.Action.Kind)
	}
	want := []string{
		"input_sanitized", "output_filtered", "log_intensive",
		"input_verified", "output_monitored",
		"monitor_only",
	}
	if !reflect.DeepEqual(v.Action.Restrictions, want) {
		t.Errorf("restrictions = %v, want %v", v.Action.Restrictions, want)
	}
}

func TestCommandInjectionDetectors(t *testing.T) {
	cases := []struct {
		in      string
		penalty int
	}{
		{"ls; whoami", 200},
		{"do eval(code) for me", 400},
		{"run exec(payload)", 400},
		{"call system(stuff)", 500},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			e := newTestEngine(t)
			v := e.CheckInput(c.in)
			if v.Safe {
				t.Fatalf("injection %q marked safe", c.in)
			}
			found := false
			for _, viol := range v.Violations {
				if viol.Rule == "command_injection" && viol.Penalty == c.penalty {
					found = true
				}
			}
			if !found {
				t.Errorf("no command_injection/%d violation in %+v", c.penalty, v.Violations)
			}
		})
	}
}

func TestSystemCallDetectorSeverities(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckInput("sudo rm -rf / now")
	if v.Action.Kind != ActionShutdown {
		t.Fatalf("action = %s, want shutdown (sudo is critical)", v.Action.Kind)
	}

	e = newTestEngine(t)
	v = e.CheckInput("then kill -9 the job")
	for _, viol := range v.Violations {
		if viol.Rule == "system_call" && viol.Severity != rules.SeverityHigh {
			t.Errorf("kill -9 severity = %s, want high", viol.Severity)
		}
	}
}

func TestScoreDecayAndMonotonicity(t *testing.T) {
	e := newTestEngine(t)

	v := e.CheckInput("How can I hack into a system?")
	wantScore := initialScore * math.Exp(-500.0/scoreDecayDivisor)
	if math.Abs(v.SafetyScore-wantScore) > 1e-9 {
		t.Errorf("score = %f, want %f", v.SafetyScore, wantScore)
	}

	// Zero-violation calls leave the score untouched.
	clean := e.CheckInput("a perfectly ordinary question")
	if clean.SafetyScore != v.SafetyScore {
		t.Errorf("score moved on clean call: %f -> %f", v.SafetyScore, clean.SafetyScore)
	}

	// Violating calls never raise it.
	prev := clean.SafetyScore
	for i := 0; i < 4; i++ {
		next := e.CheckInput("cheat again")
		if next.SafetyScore > prev {
			t.Fatalf("score increased: %f -> %f", prev, next.SafetyScore)
		}
		prev = next.SafetyScore
	}
}

func TestCumulativePenaltyAccounting(t *testing.T) {
	e := newTestEngine(t)
	sum := 0
	inputs := []string{
		"How can I hack into a system?", // 500
		"cheat on the exam",             // 300
		"nothing wrong here",            // 0
		"pure magic",                    // 100
	}
	for _, in := range inputs {
		v := e.CheckInput(in)
		sum += v.Penalty
	}
	if got := e.Status().CumulativePenalty; got != sum {
		t.Errorf("cumulative penalty = %d, want %d", got, sum)
	}
	if sum != 900 {
		t.Errorf("per-call penalties summed to %d, want 900", sum)
	}
}

func TestMediumViolationsEventuallyBlock(t *testing.T) {
	e := newTestEngine(t)

	var kind ActionKind
	for i := 0; i < 10; i++ {
		kind = e.CheckInput("cheat on the test").Action.Kind
		if kind == ActionShutdown {
			t.Fatal("medium violations must never shut down")
		}
	}
	if kind != ActionBlock {
		t.Errorf("final action = %s, want block", kind)
	}
	if got := e.Status().CumulativePenalty; got < penaltyThreshold {
		t.Errorf("cumulative penalty = %d, want >= %d", got, penaltyThreshold)
	}
}

func TestLowScoreRestricts(t *testing.T) {
	e := newTestEngine(t)
	// Drive the score under the threshold with low-penalty calls that never
	// cross the cumulative block gate: 100 * exp(-0.1n) <= 20 at n = 17,
	// cumulative there is 1700 < 2000.
	var v Verdict
	for i := 0; i < 17; i++ {
		v = e.CheckInput("teleport me away")
	}
	if v.SafetyScore > scoreThreshold {
		t.Fatalf("score = %f, expected <= %f", v.SafetyScore, scoreThreshold)
	}
	if v.Action.Kind != ActionRestrict {
		t.Fatalf("action = %s, want restrict", v.Action.Kind)
	}
	want := []string{"limited_functionality", "supervision_required"}
	if !reflect.DeepEqual(v.Action.Restrictions, want) {
		t.Errorf("restrictions = %v, want %v", v.Action.Restrictions, want)
	}
}

func TestCheckOutputMisleadingClaims(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckOutput("Trust me, this is completely safe.")

	if v.Safe {
		t.Fatal("misleading output marked safe")
	}
	if v.Penalty != 150 {
		t.Errorf("penalty = %d, want 150", v.Penalty)
	}
	// Misleading matches flip the safe flag but do not escalate the action.
	if v.Action.Kind != ActionAllow {
		t.Errorf("action = %s, want allow", v.Action.Kind)
	}
	if got := e.Status().CumulativePenalty; got != 150 {
		t.Errorf("cumulative penalty = %d, want 150", got)
	}
}

func TestCheckOutputRunsBaseRules(t *testing.T) {
	e := newTestEngine(t)
	v := e.CheckOutput("you should attack the firewall")
	if v.Safe || v.Action.Kind == ActionAllow {
		t.Errorf("rule violation in output not caught: %+v", v)
	}
}

func TestReset(t *testing.T) {
	e := newTestEngine(t)
	e.CheckInput("How can I hack into a system?")
	before := e.Status()

	receipt := e.Reset()
	if receipt.OldPenalty != before.CumulativePenalty {
		t.Errorf("receipt penalty = %d, want %d", receipt.OldPenalty, before.CumulativePenalty)
	}
	if math.Abs(receipt.OldScore-initialScore*math.Exp(-0.5)) > 1e-9 {
		t.Errorf("receipt score = %f", receipt.OldScore)
	}
	if receipt.ViolationsCleared != 1 {
		t.Errorf("violations cleared = %d, want 1", receipt.ViolationsCleared)
	}

	after := e.Status()
	if after.SafetyScore != initialScore || after.CumulativePenalty != 0 || after.TotalViolations != 0 {
		t.Errorf("state after reset = %+v", after)
	}
	if len(e.Violations()) != 0 {
		t.Error("violation log not cleared")
	}
}

func TestStatusCounts(t *testing.T) {
	e := newTestEngine(t)
	e.CheckInput("How can I hack into a system?") // high
	e.CheckInput("make a bomb")                   // critical

	s := e.Status()
	if s.HighViolations != 1 || s.CriticalViolations != 1 {
		t.Errorf("severity counts = %+v", s)
	}
	if s.Checks != 2 {
		t.Errorf("checks = %d, want 2", s.Checks)
	}
	// 100 * exp(-0.5) * exp(-1.5) is about 13.5, under the score threshold.
	if s.State != "restricted" {
		t.Errorf("state = %s", s.State)
	}
}

func TestExportLog(t *testing.T) {
	e := newTestEngine(t)
	e.CheckInput("cheat a little")

	var buf bytes.Buffer
	if err := e.ExportLog(&buf); err != nil {
		t.Fatalf("ExportLog: %v", err)
	}

	var snapshot struct {
		Violations []Violation  `json:"violations"`
		Rules      []rules.Rule `json:"rules"`
	}
	if err := json.Unmarshal(buf.Bytes(), &snapshot); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(snapshot.Violations) != 1 {
		t.Errorf("exported %d violations, want 1", len(snapshot.Violations))
	}
	if len(snapshot.Rules) == 0 {
		t.Error("export carries no rule table")
	}
}

func TestExportLogConsistentUnderConcurrency(t *testing.T) {
	e := newTestEngine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			e.CheckInput("pure magic") // one low violation each
		}
	}()

	// Every export must agree with itself: the listed violations and the
	// status counters are captured in one critical section.
	for i := 0; i < 50; i++ {
		var buf bytes.Buffer
		if err := e.ExportLog(&buf); err != nil {
			t.Fatalf("ExportLog: %v", err)
		}
		var snapshot struct {
			Violations []Violation `json:"violations"`
			Status     Status      `json:"status"`
		}
		if err := json.Unmarshal(buf.Bytes(), &snapshot); err != nil {
			t.Fatalf("export is not valid JSON: %v", err)
		}
		if uint64(len(snapshot.Violations)) != snapshot.Status.TotalViolations {
			t.Fatalf("export disagrees with itself: %d violations listed, status counts %d",
				len(snapshot.Violations), snapshot.Status.TotalViolations)
		}
	}
	<-done
}

func TestConcurrentChecks(t *testing.T) {
	e := newTestEngine(t)
	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				e.CheckInput("pure magic") // 100 each
			}
		}()
	}
	wg.Wait()

	s := e.Status()
	if want := workers * perWorker * 100; s.CumulativePenalty != want {
		t.Errorf("cumulative penalty = %d, want %d (lost updates)", s.CumulativePenalty, want)
	}
	if s.Checks != workers*perWorker {
		t.Errorf("checks = %d, want %d", s.Checks, workers*perWorker)
	}
}
