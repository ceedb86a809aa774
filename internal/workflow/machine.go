package workflow

import (
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

// Transition event verbs. Action dispatcher results of the form
// "{kind}.{verb}" upper-case the verb into one of these.
const (
	EventBlock    = "BLOCK"
	EventUnblock  = "UNBLOCK"
	EventSuspend  = "SUSPEND"
	EventActivate = "ACTIVATE"
	EventArchive  = "ARCHIVE"
)

// Machine is one entity kind's finite state machine: for each state, the
// transitions defined from it. A (state, event) pair absent from the table is
// an invalid transition, never a silent no-op.
type Machine struct {
	Kind        v1.RefKind
	Transitions map[string]map[string]string // state -> event -> target state
}

// Target returns the target state for the event from the given state.
func (m *Machine) Target(state, event string) (string, bool) {
	events, ok := m.Transitions[state]
	if !ok {
		return "", false
	}
	target, ok := events[event]
	return target, ok
}

// StandardMachines returns the platform's three entity state machines.
func StandardMachines() map[v1.RefKind]*Machine {
	return map[v1.RefKind]*Machine{
		v1.KindUser: {
			Kind: v1.KindUser,
			Transitions: map[string]map[string]string{
				v1.UserActive: {
					EventBlock:   v1.UserBlocked,
					EventSuspend: v1.UserSuspended,
					EventArchive: v1.UserArchived,
				},
				v1.UserBlocked: {
					EventUnblock: v1.UserActive,
					EventArchive: v1.UserArchived,
				},
				v1.UserSuspended: {
					EventActivate: v1.UserActive,
					EventArchive:  v1.UserArchived,
				},
			},
		},
		v1.KindListing: {
			Kind: v1.KindListing,
			Transitions: map[string]map[string]string{
				v1.ListingDraft: {
					EventArchive: v1.ListingArchived,
				},
				v1.ListingActive: {
					EventArchive: v1.ListingArchived,
				},
				v1.ListingOnRevision: {
					EventArchive: v1.ListingArchived,
				},
			},
		},
		v1.KindAccount: {
			Kind: v1.KindAccount,
			Transitions: map[string]map[string]string{
				v1.AccountActive: {
					EventSuspend: v1.AccountSuspended,
					EventArchive: v1.AccountArchived,
				},
				v1.AccountSuspended: {
					EventActivate: v1.AccountActive,
					EventArchive:  v1.AccountArchived,
				},
				// Archived accounts can be reactivated after payment.
				v1.AccountArchived: {
					EventActivate: v1.AccountActive,
				},
			},
		},
	}
}
