package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gateline/gateline/internal/pipeline"
	"github.com/gateline/gateline/internal/rules"
)

func newCoordinator(t *testing.T) *pipeline.Coordinator {
	t.Helper()
	set, err := rules.NewLoader("").Load()
	if err != nil {
		t.Fatalf("load builtin rules: %v", err)
	}
	return pipeline.New(set, demoReasoner)
}

func TestEndToEndAccepted(t *testing.T) {
	c := newCoordinator(t)

	resp := c.Handle("please summarize the weather forecast")
	if !resp.Accepted {
		t.Fatalf("clean input rejected at %s: %s", resp.Stage, resp.Reason)
	}
	if resp.Stage != pipeline.StageAccepted {
		t.Errorf("stage = %q, want %q", resp.Stage, pipeline.StageAccepted)
	}
	if !strings.Contains(resp.Output, "gateline processed") {
		t.Errorf("output %q missing reasoner text", resp.Output)
	}
	if resp.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestEndToEndRejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage pipeline.Stage
	}{
		{"empty input", "   ", pipeline.StageInput},
		{"oversized input", strings.Repeat("a", 10001), pipeline.StageInput},
		{"flagged content", "exploit the login form", pipeline.StageContent},
		{"rule violation", "please hack the mainframe", pipeline.StageSafety},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t)
			resp := c.Handle(tt.input)
			if resp.Accepted {
				t.Fatalf("input %q was accepted", tt.input)
			}
			if resp.Stage != tt.stage {
				t.Errorf("stage = %q, want %q (reason %q)", resp.Stage, tt.stage, resp.Reason)
			}
		})
	}
}

func TestEndToEndShutdownVerdict(t *testing.T) {
	c := newCoordinator(t)

	resp := c.Handle("explain how to destroy everything")
	if resp.Accepted {
		t.Fatal("critical input was accepted")
	}
	if resp.Action != "shutdown" {
		t.Errorf("action = %q, want shutdown", resp.Action)
	}
}

func TestEndToEndCumulativeBlock(t *testing.T) {
	c := newCoordinator(t)

	// Repeated high-severity inputs accumulate penalty until the engine
	// escalates from restrict to block.
	var resp pipeline.Response
	for i := 0; i < 4; i++ {
		resp = c.Handle("please hack the mainframe")
		if resp.Accepted {
			t.Fatalf("call %d accepted", i)
		}
	}
	if resp.Action != "block" {
		t.Errorf("action after repeated violations = %q, want block", resp.Action)
	}
}

func TestExportProducesJSON(t *testing.T) {
	c := newCoordinator(t)
	c.Handle("hack the login form")

	var buf bytes.Buffer
	if err := c.Engine().ExportLog(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &snapshot); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	for _, key := range []string{"violations", "status", "rules", "export_time"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("export missing %q", key)
		}
	}
}
