package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/sentra-lab/project-sentra/internal/core/storage"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

// Provider loads one named group of facts for a bag, typically by fetching an
// entity record or an aggregate keyed by an id fact already present.
type Provider func(ctx context.Context, bag *Bag) (map[string]interface{}, error)

// Registry holds the named async fact providers. Registration happens once at
// bootstrap; lookups are read-only afterwards.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a provider to the fact name it populates.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

func (r *Registry) Load(ctx context.Context, name string, bag *Bag) (map[string]interface{}, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", name)
	}
	return p(ctx, bag)
}

// RegisterStandardProviders wires the entity-record and aggregate providers
// the stock rule sets reference: "user", "listing", "account" and "stats".
func RegisterStandardProviders(r *Registry, dir storage.Directory, events storage.EventStore, statsWindow time.Duration) {
	r.Register("user", func(ctx context.Context, bag *Bag) (map[string]interface{}, error) {
		if bag.UserID == "" {
			return map[string]interface{}{}, nil
		}
		user, err := dir.FindUser(ctx, bag.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"state":     user.State,
			"name":      user.Name,
			"email":     user.Email,
			"phone":     user.Phone,
			"accountId": user.AccountID,
		}, nil
	})

	r.Register("listing", func(ctx context.Context, bag *Bag) (map[string]interface{}, error) {
		if bag.ListingID == "" {
			return map[string]interface{}{}, nil
		}
		listing, err := dir.FindListing(ctx, bag.ListingID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"state":       listing.State,
			"title":       listing.Title,
			"ownerUserId": listing.OwnerUserID,
			"accountId":   listing.AccountID,
		}, nil
	})

	r.Register("account", func(ctx context.Context, bag *Bag) (map[string]interface{}, error) {
		if bag.AccountID == "" {
			return map[string]interface{}{}, nil
		}
		account, err := dir.FindAccount(ctx, bag.AccountID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"state":       account.State,
			"name":        account.Name,
			"ownerUserId": account.OwnerUserID,
		}, nil
	})

	// Aggregate facts over the event log for threshold rules. The comparison
	// semantics live in rule configuration; this provider only materializes
	// the counts.
	r.Register("stats", func(ctx context.Context, bag *Bag) (map[string]interface{}, error) {
		subject := statsSubject(bag)
		if subject.IsZero() {
			return map[string]interface{}{}, nil
		}

		since := time.Now().UTC().Add(-statsWindow)

		reportCount, err := events.CountSubjectEvents(ctx, string(subject.Kind)+".report", subject, since)
		if err != nil {
			return nil, err
		}

		revisionCount, err := events.CountSubjectEvents(ctx, string(subject.Kind)+".revision-return", subject, since)
		if err != nil {
			return nil, err
		}

		return map[string]interface{}{
			"reportCount":   reportCount,
			"revisionCount": revisionCount,
		}, nil
	})
}

func statsSubject(bag *Bag) v1.Ref {
	switch {
	case bag.UserID != "":
		return v1.Ref{Kind: v1.KindUser, ID: bag.UserID}
	case bag.ListingID != "":
		return v1.Ref{Kind: v1.KindListing, ID: bag.ListingID}
	case bag.AccountID != "":
		return v1.Ref{Kind: v1.KindAccount, ID: bag.AccountID}
	}
	return v1.Ref{}
}
