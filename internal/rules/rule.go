package rules

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one declarative condition/action pair, scoped to a category.
// Rules are loaded at startup from YAML files and fingerprinted for staleness
// detection. Evaluation order is (priority, declaration order); a rule with
// halt set suppresses later rules in its own category once it matches.
type Rule struct {
	Name       string
	Category   string
	Priority   int
	Match      Match
	Conditions []Condition
	Actions    []Action
	Halt       bool

	// Fingerprint is the SHA-256 of the raw YAML file, computed at load time.
	Fingerprint string

	// seq preserves declaration order for stable tie-breaking.
	seq int
}

// Match restricts which events a rule applies to. Types match by exact name
// or prefix; empty Source/Module match anything.
type Match struct {
	Types  []string `yaml:"types"`
	Source string   `yaml:"source"`
	Module string   `yaml:"module"`
}

// Matches reports whether the event triplet falls under this match block.
func (m Match) Matches(source, module, eventType string) bool {
	if m.Source != "" && m.Source != source {
		return false
	}
	if m.Module != "" && m.Module != module {
		return false
	}
	if len(m.Types) == 0 {
		return true
	}
	for _, t := range m.Types {
		if eventType == t || strings.HasPrefix(eventType, t) {
			return true
		}
	}
	return false
}

// Action is the configured result a matched rule emits.
type Action struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// Set is the active, versioned rule set for one category.
type Set struct {
	Category string
	Version  string
	Rules    []Rule
}

// Repository provides the active rule set for a category. Rule sets are
// externally authored data; the evaluator consumes them as opaque input.
type Repository interface {
	ActiveSet(ctx context.Context, category string) (*Set, error)
	Categories() []string
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name       string         `yaml:"name"`
	Category   string         `yaml:"category"`
	Priority   int            `yaml:"priority"`
	Match      Match          `yaml:"match"`
	Conditions []rawCondition `yaml:"conditions"`
	Actions    []Action       `yaml:"actions"`
	Halt       bool           `yaml:"halt"`
}

type rawCondition struct {
	Fact  string      `yaml:"fact"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// FileSystemRepository loads rules from *.yaml files in a directory. Each file
// contains exactly one rule at the top level. Rules are loaded once at startup
// and cached in memory; file name order fixes declaration order.
type FileSystemRepository struct {
	dir  string
	sets map[string]*Set // keyed by category
}

// NewFileSystemRepository creates a repository and eagerly loads all rules
// from dir. Returns an error if any rule file is malformed or invalid.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:  dir,
		sets: make(map[string]*Set),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // missing directory means zero rules configured
	}
	if err != nil {
		return fmt.Errorf("rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading rule dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seen := make(map[string]string) // rule name -> file
	seq := 0

	for _, name := range names {
		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		rule, err := buildRule(raw)
		if err != nil {
			return fmt.Errorf("rule %q (%s): %w", raw.Name, path, err)
		}

		if prev, exists := seen[rule.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (also in %s)", rule.Name, prev)
		}
		seen[rule.Name] = path

		rule.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		rule.seq = seq
		seq++

		set, ok := r.sets[rule.Category]
		if !ok {
			set = &Set{Category: rule.Category}
			r.sets[rule.Category] = set
		}
		set.Rules = append(set.Rules, rule)
	}

	for _, set := range r.sets {
		sort.SliceStable(set.Rules, func(i, j int) bool {
			if set.Rules[i].Priority != set.Rules[j].Priority {
				return set.Rules[i].Priority < set.Rules[j].Priority
			}
			return set.Rules[i].seq < set.Rules[j].seq
		})

		h := sha256.New()
		for _, rule := range set.Rules {
			h.Write([]byte(rule.Fingerprint))
		}
		set.Version = fmt.Sprintf("%x", h.Sum(nil))
	}

	return nil
}

func buildRule(raw rawRule) (Rule, error) {
	if raw.Category == "" {
		return Rule{}, fmt.Errorf("category must not be empty")
	}
	if len(raw.Actions) == 0 {
		return Rule{}, fmt.Errorf("at least one action is required")
	}
	for _, a := range raw.Actions {
		if a.Type == "" {
			return Rule{}, fmt.Errorf("action type must not be empty")
		}
	}

	conditions := make([]Condition, 0, len(raw.Conditions))
	for _, rc := range raw.Conditions {
		cond, err := NewCondition(rc.Fact, rc.Op, rc.Value)
		if err != nil {
			return Rule{}, err
		}
		conditions = append(conditions, cond)
	}

	return Rule{
		Name:       raw.Name,
		Category:   raw.Category,
		Priority:   raw.Priority,
		Match:      raw.Match,
		Conditions: conditions,
		Actions:    raw.Actions,
		Halt:       raw.Halt,
	}, nil
}

// ActiveSet returns the loaded rule set for the category. A category with no
// rules yields an empty set, not an error.
func (r *FileSystemRepository) ActiveSet(_ context.Context, category string) (*Set, error) {
	if set, ok := r.sets[category]; ok {
		return set, nil
	}
	return &Set{Category: category}, nil
}

// Categories returns all categories with at least one loaded rule.
func (r *FileSystemRepository) Categories() []string {
	out := make([]string, 0, len(r.sets))
	for category := range r.sets {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// RuleCount returns the total number of loaded rules across categories.
func (r *FileSystemRepository) RuleCount() int {
	n := 0
	for _, set := range r.sets {
		n += len(set.Rules)
	}
	return n
}
