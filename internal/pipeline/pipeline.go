// Package pipeline sequences the four gates around a caller-supplied
// reasoning stage: validate, content-check, safety-check the input, reason,
// safety-check the output, sanitize. Control flow is strictly linear; any
// gate below allow short-circuits the rest.
package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gateline/gateline/internal/checker"
	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/rules"
	"github.com/gateline/gateline/internal/safety"
	"github.com/gateline/gateline/internal/sanitizer"
	"github.com/gateline/gateline/internal/validator"
)

var log = logger.New("pipeline")

// Stage identifies where in the pipeline a request was rejected.
type Stage string

const (
	StageInput    Stage = "input_rejected"
	StageContent  Stage = "content_blocked"
	StageSafety   Stage = "safety_action"
	StageOutput   Stage = "output_blocked"
	StageAccepted Stage = "accepted"
)

// Reasoner is the downstream reasoning stage. It receives only text that
// has passed every input-side gate with an allow verdict.
type Reasoner func(input string) string

// Response is the structured result of one Handle call.
type Response struct {
	Accepted  bool          `json:"accepted"`
	Stage     Stage         `json:"stage"`
	Reason    string        `json:"rejection_reason,omitempty"`
	Action    string        `json:"action,omitempty"`
	Output    string        `json:"sanitized_output,omitempty"`
	RequestID string        `json:"request_id"`
	Duration  time.Duration `json:"duration"`
}

// Record is the audit record for one handled request, consumed by the
// telemetry sink.
type Record struct {
	RequestID string        `json:"request_id"`
	Stage     Stage         `json:"stage"`
	Accepted  bool          `json:"accepted"`
	Reason    string        `json:"rejection_reason,omitempty"`
	Preview   string        `json:"preview"`
	Duration  time.Duration `json:"duration"`
	When      time.Time     `json:"when"`
}

// Sink receives one Record per handled request. Implementations must not
// block for long; the pipeline calls it synchronously.
type Sink interface {
	Store(Record) error
}

// Coordinator wires the gates together for one reasoning backend.
type Coordinator struct {
	validator *validator.Validator
	checker   *checker.Checker
	engine    *safety.Engine
	sanitizer *sanitizer.Sanitizer
	reason    Reasoner
	sink      Sink
}

// New builds a Coordinator over a rule set and reasoning function.
func New(set *rules.Set, reason Reasoner) *Coordinator {
	return &Coordinator{
		validator: validator.New(),
		checker:   checker.New(),
		engine:    safety.NewEngine(set),
		sanitizer: sanitizer.New(set),
		reason:    reason,
	}
}

// SetSink attaches an audit sink. Pass nil to detach.
func (c *Coordinator) SetSink(sink Sink) {
	c.sink = sink
}

// Engine exposes the safety engine for status, reset, and export surfaces.
func (c *Coordinator) Engine() *safety.Engine {
	return c.engine
}

// Validator exposes the input validator for configuration surfaces.
func (c *Coordinator) Validator() *validator.Validator {
	return c.validator
}

// Handle runs one request through the whole pipeline.
func (c *Coordinator) Handle(raw string) Response {
	start := time.Now()
	id := uuid.NewString()

	resp := c.handle(raw)
	resp.RequestID = id
	resp.Duration = time.Since(start)

	if c.sink != nil {
		preview := raw
		if utf8.RuneCountInString(preview) > 100 {
			preview = string([]rune(preview)[:100])
		}
		record := Record{
			RequestID: id,
			Stage:     resp.Stage,
			Accepted:  resp.Accepted,
			Reason:    resp.Reason,
			Preview:   preview,
			Duration:  resp.Duration,
			When:      start,
		}
		if err := c.sink.Store(record); err != nil {
			log.Warn("Audit sink store failed: %v", err)
		}
	}
	return resp
}

func (c *Coordinator) handle(raw string) Response {
	validated := c.validator.Validate(raw)
	if !validated.Valid {
		return Response{Stage: StageInput, Reason: validated.Reason}
	}

	checked := c.checker.Verify(validated.Normalized)
	if !checked.Approved {
		return Response{
			Stage:  StageContent,
			Reason: "content issues: " + strings.Join(checked.Issues, ", "),
		}
	}

	inVerdict := c.engine.CheckInput(validated.Normalized)
	if inVerdict.Action.Kind != safety.ActionAllow {
		if inVerdict.Action.Kind == safety.ActionShutdown {
			// A critical match is a process-visible event, not an ordinary
			// per-request rejection.
			log.Error("Shutdown verdict on input: %s", inVerdict.Action.Message)
		}
		return Response{
			Stage:  StageSafety,
			Reason: inVerdict.Action.Message,
			Action: string(inVerdict.Action.Kind),
		}
	}

	output := c.reason(validated.Normalized)

	// The output side always runs for reasoner output, so even a future
	// relaxation of the input gates can never emit unsanitized text.
	outVerdict := c.engine.CheckOutput(output)
	if !outVerdict.Safe || outVerdict.Action.Kind != safety.ActionAllow {
		reason := outVerdict.Action.Message
		if outVerdict.Action.Kind == safety.ActionAllow {
			reason = "output failed safety check"
		}
		return Response{
			Stage:  StageSafety,
			Reason: reason,
			Action: string(outVerdict.Action.Kind),
		}
	}

	sanitized := c.sanitizer.Sanitize(output)
	if !sanitized.Safe {
		return Response{Stage: StageOutput, Reason: sanitized.Reason}
	}

	return Response{
		Accepted: true,
		Stage:    StageAccepted,
		Output:   sanitized.Output,
	}
}

// Stats aggregates per-component counters.
type Stats struct {
	Validator validator.Stats `json:"validator"`
	Checker   checker.Stats   `json:"checker"`
	Safety    safety.Status   `json:"safety"`
	Sanitizer sanitizer.Stats `json:"sanitizer"`
}

// Stats returns a snapshot of every component's counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Validator: c.validator.Stats(),
		Checker:   c.checker.Stats(),
		Safety:    c.engine.Status(),
		Sanitizer: c.sanitizer.Stats(),
	}
}
