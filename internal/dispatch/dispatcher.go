package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/notify"
	"github.com/sentra-lab/project-sentra/internal/rules"
	"github.com/sentra-lab/project-sentra/internal/workflow"
)

// ResultNotificationSend is the rule result type routed to the notification
// dispatcher. Every other known result type is "{kind}.{verb}" and routes to
// the workflow engine.
const ResultNotificationSend = "notification.send"

// Default audit reasons per transition verb, used when a rule does not
// configure its own.
var defaultReasons = map[string]string{
	workflow.EventBlock:    "Автоматическая блокировка по правилам",
	workflow.EventUnblock:  "Автоматическая разблокировка по правилам",
	workflow.EventSuspend:  "Автоматическая приостановка по правилам",
	workflow.EventActivate: "Автоматическая активация по правилам",
	workflow.EventArchive:  "Автоматическая архивация по правилам",
}

// ActionError is one result's failure. Collected, never thrown: the batch
// outcome makes "one failure doesn't block others" visible to callers.
type ActionError struct {
	Result rules.Result
	Err    error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("action %s (rule %s): %v", e.Result.Type, e.Result.Rule, e.Err)
}

// BatchOutcome aggregates one evaluation pass's action processing.
type BatchOutcome struct {
	Executed int
	Skipped  int
	Errors   []ActionError
}

// Dispatcher routes rule results to the workflow engine or the notification
// dispatcher. Failures are isolated per result.
type Dispatcher struct {
	engine   *workflow.Engine
	notifier *notify.Dispatcher
}

func NewDispatcher(engine *workflow.Engine, notifier *notify.Dispatcher) *Dispatcher {
	if engine == nil {
		panic("dispatch: workflow engine must not be nil")
	}
	if notifier == nil {
		panic("dispatch: notifier must not be nil")
	}
	return &Dispatcher{engine: engine, notifier: notifier}
}

// ProcessResults executes every rule result from one evaluation pass against
// the originating event. Each result's failure is recorded individually; one
// failing action never prevents processing of the remaining results.
func (d *Dispatcher) ProcessResults(ctx context.Context, results []rules.Result, event *v1.Event) BatchOutcome {
	var outcome BatchOutcome

	for _, result := range results {
		executed, err := d.processResult(ctx, result, event)
		switch {
		case err != nil:
			slog.Error("[Dispatch] Action failed",
				"action", result.Type,
				"rule", result.Rule,
				"event_id", event.ID,
				"correlation_id", event.CorrelationID,
				"error", err,
			)
			outcome.Errors = append(outcome.Errors, ActionError{Result: result, Err: err})
		case executed:
			outcome.Executed++
		default:
			outcome.Skipped++
		}
	}

	return outcome
}

func (d *Dispatcher) processResult(ctx context.Context, result rules.Result, event *v1.Event) (bool, error) {
	if result.Type == ResultNotificationSend {
		return d.processNotification(ctx, result, event)
	}

	kindPart, verb, ok := strings.Cut(result.Type, ".")
	if !ok {
		slog.Warn("[Dispatch] Unknown result type, skipping",
			"action", result.Type,
			"rule", result.Rule,
		)
		return false, nil
	}

	kind := v1.RefKind(kindPart)
	switch kind {
	case v1.KindUser, v1.KindListing, v1.KindAccount:
	default:
		slog.Warn("[Dispatch] Unknown result type, skipping",
			"action", result.Type,
			"rule", result.Rule,
		)
		return false, nil
	}

	// A result whose implied entity kind does not match the event's subject is
	// ignored without a transition attempt.
	if event.Subject.Kind != kind || event.Subject.ID == "" {
		slog.Debug("[Dispatch] Result kind does not match event subject, skipping",
			"action", result.Type,
			"subject_kind", event.Subject.Kind,
			"event_id", event.ID,
		)
		return false, nil
	}

	transitionEvent := strings.ToUpper(verb)

	actorID := event.Actor.ID
	if actorID == "" {
		actorID = "system"
	}

	reason := stringParam(result.Params, "reason")
	if reason == "" {
		reason = defaultReasons[transitionEvent]
	}

	_, err := d.engine.Transition(ctx, workflow.Request{
		Kind:     kind,
		EntityID: event.Subject.ID,
		Event:    transitionEvent,
		ActorID:  actorID,
		Reason:   reason,
		Metadata: map[string]string{
			"triggeredBy":     "rules-engine",
			"originalEventId": event.ID,
			"ruleType":        result.Rule,
		},
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

func (d *Dispatcher) processNotification(ctx context.Context, result rules.Result, event *v1.Event) (bool, error) {
	req := notify.Request{
		RecipientUserID: stringParam(result.Params, "userId"),
		TemplateID:      stringParam(result.Params, "templateId"),
		Subject:         stringParam(result.Params, "subject"),
		Content:         stringParam(result.Params, "content"),
		Variables:       stringMapParam(result.Params, "variables"),
		Delay:           durationParam(result.Params, "delay"),
		Channels:        channelsParam(result.Params),
		Origin:          event,
	}

	_, _, err := d.notifier.Dispatch(ctx, req)
	if err != nil {
		return false, err
	}
	return true, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func stringMapParam(params map[string]interface{}, key string) map[string]string {
	raw, ok := params[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// durationParam reads a delay as seconds (number) or a Go duration string.
func durationParam(params map[string]interface{}, key string) time.Duration {
	switch v := params[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

func channelsParam(params map[string]interface{}) []v1.Channel {
	raw, ok := params["channels"].([]interface{})
	if !ok {
		return nil
	}
	var channels []v1.Channel
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			continue
		}
		channel := v1.Channel(name)
		if !channel.Valid() {
			slog.Warn("[Dispatch] Unknown notification channel, skipping", "channel", name)
			continue
		}
		channels = append(channels, channel)
	}
	return channels
}
