package safety

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gateline/gateline/internal/rules"
)

// exportSnapshot is the JSON shape written by ExportLog. The format is an
// audit convenience, not a load-bearing interchange contract.
type exportSnapshot struct {
	Violations []Violation  `json:"violations"`
	Status     Status       `json:"status"`
	Rules      []rules.Rule `json:"rules"`
	ExportTime time.Time    `json:"export_time"`
}

// ExportLog writes a JSON snapshot of the violation log, current status,
// and rule table to w. The log and status are captured under one lock so
// they always agree with each other.
func (e *Engine) ExportLog(w io.Writer) error {
	e.mu.Lock()
	snapshot := exportSnapshot{
		Violations: e.violationsLocked(),
		Status:     e.statusLocked(),
		Rules:      e.set.Rules(),
		ExportTime: time.Now(),
	}
	e.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("export safety log: %w", err)
	}
	return nil
}
