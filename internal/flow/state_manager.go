// Package flow provides concrete implementations of state management.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/catalog"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

// StateManager loads and saves conversation states on top of a StateStore and
// keeps them consistent with the step catalog.
type StateManager struct {
	store   store.StateStore
	catalog *catalog.Catalog
	now     func() time.Time
}

// NewStateManager creates a new StateManager backed by a StateStore.
func NewStateManager(st store.StateStore, cat *catalog.Catalog) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st, catalog: cat, now: time.Now}
}

// Load returns the sender's state, or a fresh one positioned at the first step.
// A stored state pointing at a step the catalog no longer has starts over.
func (sm *StateManager) Load(ctx context.Context, sender string) (*models.ConversationState, error) {
	slog.Debug("StateManager Load", "sender", sender)

	state, err := sm.store.GetState(ctx, sender)
	if err != nil {
		slog.Error("StateManager Load error", "error", err, "sender", sender)
		return nil, err
	}

	if state == nil {
		slog.Debug("StateManager Load not found, starting interview", "sender", sender, "step", sm.catalog.First())
		return sm.fresh(sender), nil
	}

	if !sm.catalog.Has(state.CurrentStep) {
		slog.Warn("StateManager Load unknown step, restarting interview", "sender", sender, "step", state.CurrentStep)
		return sm.fresh(sender), nil
	}

	if state.Flags == nil {
		state.Flags = make(map[models.Flag]bool)
	}
	slog.Debug("StateManager Load found", "sender", sender, "step", state.CurrentStep)
	return state, nil
}

// Peek returns the stored state without creating or repairing one.
func (sm *StateManager) Peek(ctx context.Context, sender string) (*models.ConversationState, error) {
	return sm.store.GetState(ctx, sender)
}

// Save stamps and persists the state.
func (sm *StateManager) Save(ctx context.Context, state *models.ConversationState) error {
	state.UpdatedAt = sm.now()
	if err := sm.store.SaveState(ctx, *state); err != nil {
		slog.Error("StateManager Save error", "error", err, "sender", state.Sender, "step", state.CurrentStep)
		return err
	}
	slog.Debug("StateManager Save succeeded", "sender", state.Sender, "step", state.CurrentStep)
	return nil
}

// Delete removes the sender's state.
func (sm *StateManager) Delete(ctx context.Context, sender string) error {
	if err := sm.store.DeleteState(ctx, sender); err != nil {
		slog.Error("StateManager Delete error", "error", err, "sender", sender)
		return err
	}
	slog.Debug("StateManager Delete succeeded", "sender", sender)
	return nil
}

func (sm *StateManager) fresh(sender string) *models.ConversationState {
	st := models.NewConversationState(sender, sm.catalog.First())
	st.CreatedAt = sm.now()
	st.UpdatedAt = st.CreatedAt
	return st
}
