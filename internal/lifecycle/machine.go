// Package lifecycle models the conversation lifecycle as an explicit state
// machine: Active <-> Archived, Active/Archived -> Trashed -> restore or
// purge. It is consulted before bulk transitions so an invalid request is
// rejected uniformly instead of silently matching zero rows.
package lifecycle

import (
	"context"

	"github.com/qmuntal/stateless"

	"github.com/estio/conversations-gateway/internal/model"
)

// Trigger is a requested lifecycle transition.
type Trigger string

const (
	TriggerArchive   Trigger = "archive"
	TriggerUnarchive Trigger = "unarchive"
	TriggerDelete    Trigger = "delete"
	TriggerRestore   Trigger = "restore"
	TriggerPurge     Trigger = "purge"
)

// statePurged is terminal and never observable on a stored row.
const statePurged = model.LifecycleState("purged")

func newMachine(initial model.LifecycleState) *stateless.StateMachine {
	sm := stateless.NewStateMachine(initial)

	sm.Configure(model.LifecycleActive).
		Permit(TriggerArchive, model.LifecycleArchived).
		Permit(TriggerDelete, model.LifecycleTrashed)

	sm.Configure(model.LifecycleArchived).
		Permit(TriggerUnarchive, model.LifecycleActive).
		Permit(TriggerDelete, model.LifecycleTrashed)

	// Restore returns to Active; a preserved archived_at timestamp makes the
	// derived state Archived again without a machine transition.
	sm.Configure(model.LifecycleTrashed).
		Permit(TriggerRestore, model.LifecycleActive).
		Permit(TriggerPurge, statePurged)

	sm.Configure(statePurged)

	return sm
}

// CanTransition reports whether trigger is valid from the given state.
func CanTransition(from model.LifecycleState, trigger Trigger) bool {
	ok, err := newMachine(from).CanFireCtx(context.Background(), trigger)
	return err == nil && ok
}
