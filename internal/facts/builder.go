package facts

import (
	"strings"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

// relevantTypeFragments is the allow-list of event type families the rules
// pipeline cares about. Events outside it skip rule evaluation entirely; the
// substring match keeps the filter cheap for the bulk of unrelated traffic.
var relevantTypeFragments = []string{
	"report",
	"created",
	"blocked",
	"suspended",
	"archived",
	"approved",
	"activated",
	"tariff-expiry",
	"revision-return",
}

// Builder converts raw events into fact bags.
type Builder struct {
	providers *Registry
}

func NewBuilder(providers *Registry) *Builder {
	return &Builder{providers: providers}
}

// Build derives a fact bag from one event. Returns nil when the event type is
// outside the relevant families, signaling "no rule evaluation needed".
// Pure apart from the lazy provider lookups triggered later by rule references.
func (b *Builder) Build(event *v1.Event) *Bag {
	if event == nil || !Relevant(event.Type) {
		return nil
	}

	bag := &Bag{
		Event: EventFacts{
			Source: event.Source,
			Module: event.Module,
			Type:   event.Type,
		},
		Payload:   event.Payload,
		providers: b.providers,
	}

	switch event.Subject.Kind {
	case v1.KindUser:
		bag.UserID = event.Subject.ID
	case v1.KindListing:
		bag.ListingID = event.Subject.ID
	case v1.KindAccount:
		bag.AccountID = event.Subject.ID
	case v1.KindSystem, "":
		// no id fact for system or absent subjects
	}

	return bag
}

// Relevant reports whether an event type belongs to one of the allow-listed
// families.
func Relevant(eventType string) bool {
	for _, fragment := range relevantTypeFragments {
		if strings.Contains(eventType, fragment) {
			return true
		}
	}
	return false
}
