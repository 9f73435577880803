package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gateline/gateline/internal/logger"
)

var log = logger.New("rules")

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Loader reads rule files from the embedded builtin set and an optional
// user directory.
type Loader struct {
	userDir string
}

// NewLoader creates a loader. userDir may be empty, in which case only the
// builtin set is loaded.
func NewLoader(userDir string) *Loader {
	return &Loader{userDir: userDir}
}

// Load reads builtin and user rule files and returns a validated Set.
// User rules extend the builtin set; a user rule whose name collides with
// a builtin rule is rejected.
func (l *Loader) Load() (*Set, error) {
	rules, redactions, err := l.loadBuiltin()
	if err != nil {
		return nil, err
	}
	log.Info("Loaded %d builtin safety rules, %d redaction rules", len(rules), len(redactions))

	if l.userDir != "" {
		userRules, userRedactions, err := l.loadUser()
		if err != nil {
			return nil, err
		}
		if len(userRules) > 0 || len(userRedactions) > 0 {
			log.Info("Loaded %d user rules, %d user redactions from %s",
				len(userRules), len(userRedactions), l.userDir)
		}
		rules = append(rules, userRules...)
		redactions = append(redactions, userRedactions...)
	}

	return NewSet(rules, redactions)
}

func (l *Loader) loadBuiltin() ([]Rule, []RedactionRule, error) {
	var rules []Rule
	var redactions []RedactionRule

	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		r, rd, err := parseRuleFile(data, path)
		if err != nil {
			return err
		}
		rules = append(rules, r...)
		redactions = append(redactions, rd...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rules, redactions, nil
}

func (l *Loader) loadUser() ([]Rule, []RedactionRule, error) {
	entries, err := os.ReadDir(l.userDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read rules directory: %w", err)
	}

	var rules []Rule
	var redactions []RedactionRule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(l.userDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		r, rd, err := parseRuleFile(data, path)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, r...)
		redactions = append(redactions, rd...)
	}
	return rules, redactions, nil
}

func parseRuleFile(data []byte, path string) ([]Rule, []RedactionRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Version != 1 {
		return nil, nil, fmt.Errorf("%s: unsupported rule file version %d", path, f.Version)
	}
	return f.Rules, f.Redactions, nil
}
