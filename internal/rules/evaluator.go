package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentra-lab/project-sentra/internal/facts"
)

// Result is an action request emitted by a matched rule. Not persisted;
// consumed by the action dispatcher within the same evaluation pass.
type Result struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
	Rule   string                 `json:"rule"`
}

// Options select which rule set to evaluate and whether the pass is a dry run.
// Evaluation itself has no side effects either way; DryRun is carried in the
// outcome so downstream action execution can check it.
type Options struct {
	Category string
	DryRun   bool
}

// Outcome is the result of one evaluation pass.
type Outcome struct {
	Category string   `json:"category"`
	Version  string   `json:"version"`
	DryRun   bool     `json:"dry_run,omitempty"`
	Results  []Result `json:"results"`
}

// Evaluator runs the active rule set of a category against a fact bag.
type Evaluator struct {
	repo Repository
}

func NewEvaluator(repo Repository) *Evaluator {
	if repo == nil {
		panic("rules: repository must not be nil")
	}
	return &Evaluator{repo: repo}
}

// Evaluate matches every rule of the category against the bag, in (priority,
// declaration) order. All matching rules fire unless one carries halt. A
// provider lookup failure drops that one rule's contribution and continues;
// it never aborts the pass. Deterministic given identical facts.
func (e *Evaluator) Evaluate(ctx context.Context, bag *facts.Bag, opts Options) (*Outcome, error) {
	set, err := e.repo.ActiveSet(ctx, opts.Category)
	if err != nil {
		return nil, fmt.Errorf("load rule set %q: %w", opts.Category, err)
	}

	outcome := &Outcome{
		Category: set.Category,
		Version:  set.Version,
		DryRun:   opts.DryRun,
	}
	if bag == nil {
		return outcome, nil
	}

	for _, rule := range set.Rules {
		if !rule.Match.Matches(bag.Event.Source, bag.Event.Module, bag.Event.Type) {
			continue
		}

		matched, err := e.conditionsHold(ctx, bag, rule)
		if err != nil {
			slog.Warn("[Rules] Provider lookup failed, skipping rule",
				"rule", rule.Name,
				"category", rule.Category,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		for _, action := range rule.Actions {
			outcome.Results = append(outcome.Results, Result{
				Type:   action.Type,
				Params: action.Params,
				Rule:   rule.Name,
			})
		}

		if rule.Halt {
			slog.Debug("[Rules] Halt rule matched, stopping category",
				"rule", rule.Name,
				"category", rule.Category,
			)
			break
		}
	}

	return outcome, nil
}

func (e *Evaluator) conditionsHold(ctx context.Context, bag *facts.Bag, rule Rule) (bool, error) {
	for _, cond := range rule.Conditions {
		value, present, err := bag.Lookup(ctx, cond.Fact)
		if err != nil {
			return false, err
		}
		if !cond.Holds(value, present) {
			return false, nil
		}
	}
	return true, nil
}
