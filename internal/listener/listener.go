package listener

import (
	"context"
	"log/slog"
	"sync/atomic"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/dispatch"
	"github.com/sentra-lab/project-sentra/internal/eventlog"
	"github.com/sentra-lab/project-sentra/internal/facts"
	"github.com/sentra-lab/project-sentra/internal/rules"
)

// Service is the evaluation pass triggered by every accepted event: build the
// fact bag, run every rule category against it, hand the results to the
// action dispatcher. A failing pass is logged and dropped; it never propagates
// back to the event producer.
type Service struct {
	log        *eventlog.Log
	builder    *facts.Builder
	evaluator  *rules.Evaluator
	rulesRepo  rules.Repository
	dispatcher *dispatch.Dispatcher
	stopped    atomic.Bool
}

func NewService(log *eventlog.Log, builder *facts.Builder, evaluator *rules.Evaluator, repo rules.Repository, dispatcher *dispatch.Dispatcher) *Service {
	if log == nil {
		panic("listener: event log must not be nil")
	}
	if builder == nil {
		panic("listener: fact builder must not be nil")
	}
	if evaluator == nil {
		panic("listener: evaluator must not be nil")
	}
	if repo == nil {
		panic("listener: rules repository must not be nil")
	}
	if dispatcher == nil {
		panic("listener: dispatcher must not be nil")
	}
	return &Service{
		log:        log,
		builder:    builder,
		evaluator:  evaluator,
		rulesRepo:  repo,
		dispatcher: dispatcher,
	}
}

// Start subscribes the evaluation pass to the event log.
func (s *Service) Start() {
	s.log.Subscribe(s.HandleEvent)
	slog.Info("[Listener] Subscribed to event log",
		"categories", s.rulesRepo.Categories())
}

// Stop makes subsequent evaluation passes no-ops. The event log keeps
// accepting events; they are simply no longer evaluated.
func (s *Service) Stop() {
	s.stopped.Store(true)
	slog.Info("[Listener] Stopped")
}

// HandleEvent runs one full evaluation pass for an accepted event.
func (s *Service) HandleEvent(ctx context.Context, event *v1.Event) {
	if s.stopped.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Listener] Evaluation pass panicked",
				"event_id", event.ID,
				"event_type", event.Type,
				"panic", r)
		}
	}()

	bag := s.builder.Build(event)
	if bag == nil {
		slog.Debug("[Listener] Event not relevant to rules, skipping",
			"event_id", event.ID,
			"event_type", event.Type)
		return
	}

	for _, category := range s.rulesRepo.Categories() {
		outcome, err := s.evaluator.Evaluate(ctx, bag, rules.Options{Category: category})
		if err != nil {
			slog.Error("[Listener] Rule evaluation failed",
				"category", category,
				"event_id", event.ID,
				"error", err)
			continue
		}
		if len(outcome.Results) == 0 {
			continue
		}

		slog.Info("[Listener] Rules matched",
			"category", category,
			"rule_set_version", outcome.Version,
			"event_id", event.ID,
			"event_type", event.Type,
			"actions", len(outcome.Results))

		batch := s.dispatcher.ProcessResults(ctx, outcome.Results, event)
		if len(batch.Errors) > 0 {
			slog.Error("[Listener] Some actions failed",
				"category", category,
				"event_id", event.ID,
				"executed", batch.Executed,
				"failed", len(batch.Errors))
		}
	}
}
