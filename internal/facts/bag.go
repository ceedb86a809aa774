package facts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// EventFacts is the originating-event triplet every bag carries.
type EventFacts struct {
	Source string
	Module string
	Type   string
}

// Bag is the transient fact structure one rule evaluation pass runs against.
// It never outlives the pass. Facts referenced by rules but not present in the
// bag are resolved lazily through named providers and memoized for the pass.
type Bag struct {
	Event   EventFacts
	Payload map[string]interface{}

	// Subject-derived id facts. Absent when the event's subject maps to no
	// known entity kind.
	UserID    string
	ListingID string
	AccountID string

	providers *Registry

	mu       sync.Mutex
	resolved map[string]map[string]interface{}
	group    singleflight.Group
}

// Lookup resolves a dotted fact path against the bag, loading provider facts
// on first reference. Returns the value and whether the fact is present.
// Provider lookup failures surface as errors so the caller can skip the rule
// without aborting the pass.
func (b *Bag) Lookup(ctx context.Context, path string) (interface{}, bool, error) {
	head, rest, _ := strings.Cut(path, ".")

	switch head {
	case "event":
		switch rest {
		case "source":
			return b.Event.Source, true, nil
		case "module":
			return b.Event.Module, true, nil
		case "type":
			return b.Event.Type, true, nil
		}
		return nil, false, nil
	case "payload":
		v, ok := walkPath(b.Payload, rest)
		return v, ok, nil
	case "userId":
		return b.UserID, b.UserID != "", nil
	case "listingId":
		return b.ListingID, b.ListingID != "", nil
	case "accountId":
		return b.AccountID, b.AccountID != "", nil
	}

	if b.providers == nil || !b.providers.Has(head) {
		return nil, false, nil
	}

	loaded, err := b.resolve(ctx, head)
	if err != nil {
		return nil, false, err
	}

	v, ok := walkPath(loaded, rest)
	return v, ok, nil
}

// resolve loads one provider's facts, memoized within the pass. singleflight
// collapses overlapping loads when several rules reference the same provider.
func (b *Bag) resolve(ctx context.Context, name string) (map[string]interface{}, error) {
	b.mu.Lock()
	if cached, ok := b.resolved[name]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	result, err, _ := b.group.Do(name, func() (interface{}, error) {
		loaded, err := b.providers.Load(ctx, name, b)
		if err != nil {
			return nil, fmt.Errorf("fact provider %q: %w", name, err)
		}

		b.mu.Lock()
		if b.resolved == nil {
			b.resolved = make(map[string]map[string]interface{})
		}
		b.resolved[name] = loaded
		b.mu.Unlock()

		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(map[string]interface{}), nil
}

// walkPath descends a dotted path into nested maps. An empty path returns the
// whole map.
func walkPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	if path == "" {
		return m, true
	}

	var current interface{} = m
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
