package inward

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

func testSession(id, plantID, operatorID string, step model.Step) model.InwardSession {
	return model.InwardSession{
		ID:          id,
		PlantID:     plantID,
		OperatorID:  operatorID,
		CurrentStep: step,
		Status:      model.SessionStatusActive,
		Record:      model.NewInwardRecord(),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		Version:     1,
	}
}

// --- Create ---

func TestMemorySessionStore_Create(t *testing.T) {
	store := NewMemorySessionStore()

	if err := store.Create(context.Background(), testSession("s-1", "plant-1", "op-1", model.StepTruckArrival)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemorySessionStore_Create_duplicate(t *testing.T) {
	store := NewMemorySessionStore()
	sess := testSession("s-1", "plant-1", "op-1", model.StepTruckArrival)

	_ = store.Create(context.Background(), sess)
	err := store.Create(context.Background(), sess)
	if code := model.CodeOf(err); code != model.ErrConflict {
		t.Errorf("code = %q, want %s", code, model.ErrConflict)
	}
}

// --- Get ---

func TestMemorySessionStore_Get_plantIsolation(t *testing.T) {
	store := NewMemorySessionStore()
	_ = store.Create(context.Background(), testSession("s-1", "plant-1", "op-1", model.StepTally))

	got, err := store.Get(context.Background(), "plant-1", "s-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.CurrentStep != model.StepTally {
		t.Errorf("CurrentStep = %d", got.CurrentStep)
	}

	_, err = store.Get(context.Background(), "plant-2", "s-1")
	if code := model.CodeOf(err); code != model.ErrNotFound {
		t.Errorf("code = %q, want %s", code, model.ErrNotFound)
	}
}

func TestMemorySessionStore_Get_returnsCopy(t *testing.T) {
	store := NewMemorySessionStore()
	_ = store.Create(context.Background(), testSession("s-1", "plant-1", "op-1", model.StepTagging))

	got, _ := store.Get(context.Background(), "plant-1", "s-1")
	got.Record.Tagging.Tags.Add("RF-1")
	got.Record.Inspection.Checks["markings"] = model.QualityFail

	again, _ := store.Get(context.Background(), "plant-1", "s-1")
	if again.Record.Tagging.Tags.Len() != 0 {
		t.Error("store shares tag list with caller")
	}
	if len(again.Record.Inspection.Checks) != 0 {
		t.Error("store shares checks map with caller")
	}
}

// --- Update ---

func TestMemorySessionStore_Update(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, testSession("s-1", "plant-1", "op-1", model.StepTruckArrival))

	sess, _ := store.Get(ctx, "plant-1", "s-1")
	sess.CurrentStep = model.StepWeighing
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got, _ := store.Get(ctx, "plant-1", "s-1")
	if got.CurrentStep != model.StepWeighing {
		t.Errorf("CurrentStep = %d, want 2", got.CurrentStep)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestMemorySessionStore_Update_versionConflict(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, testSession("s-1", "plant-1", "op-1", model.StepTruckArrival))

	first, _ := store.Get(ctx, "plant-1", "s-1")
	second, _ := store.Get(ctx, "plant-1", "s-1")

	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first Update error: %v", err)
	}
	err := store.Update(ctx, second)
	if code := model.CodeOf(err); code != model.ErrConflict {
		t.Errorf("code = %q, want %s", code, model.ErrConflict)
	}
}

func TestMemorySessionStore_Update_notFound(t *testing.T) {
	store := NewMemorySessionStore()
	err := store.Update(context.Background(), testSession("missing", "plant-1", "op-1", model.StepTally))
	if code := model.CodeOf(err); code != model.ErrNotFound {
		t.Errorf("code = %q, want %s", code, model.ErrNotFound)
	}
}

// --- Events ---

func TestMemorySessionStore_Events(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, testSession("s-1", "plant-1", "op-1", model.StepTruckArrival))

	base := time.Now().UTC()
	_ = store.AppendEvent(ctx, model.InwardEvent{ID: "e-2", SessionID: "s-1", Event: model.EventStepEntered, Timestamp: base.Add(time.Second)})
	_ = store.AppendEvent(ctx, model.InwardEvent{ID: "e-1", SessionID: "s-1", Event: model.EventSessionStarted, Timestamp: base})

	events, err := store.GetEvents(ctx, "plant-1", "s-1")
	if err != nil {
		t.Fatalf("GetEvents error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != "e-1" || events[1].ID != "e-2" {
		t.Errorf("events not ordered by timestamp: %s, %s", events[0].ID, events[1].ID)
	}

	if _, err := store.GetEvents(ctx, "plant-2", "s-1"); model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("cross-plant GetEvents error = %v", err)
	}
}

// --- FindActive ---

func TestMemorySessionStore_FindActive(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"s-1", "s-2", "s-3"} {
		sess := testSession(id, "plant-1", "op-1", model.StepTruckArrival)
		sess.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = store.Create(ctx, sess)
	}
	other := testSession("s-4", "plant-1", "op-2", model.StepTruckArrival)
	other.CreatedAt = base.Add(-time.Hour)
	_ = store.Create(ctx, other)

	cancelled := testSession("s-5", "plant-1", "op-1", model.StepTally)
	cancelled.Status = model.SessionStatusCancelled
	_ = store.Create(ctx, cancelled)

	_ = store.Create(ctx, testSession("s-6", "plant-2", "op-1", model.StepTruckArrival))

	all, err := store.FindActive(ctx, "plant-1", SessionFilters{})
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].ID != "s-3" {
		t.Errorf("first = %q, want newest s-3", all[0].ID)
	}

	mine, _ := store.FindActive(ctx, "plant-1", SessionFilters{OperatorID: "op-2"})
	if len(mine) != 1 || mine[0].ID != "s-4" {
		t.Errorf("operator filter = %+v", mine)
	}

	page, _ := store.FindActive(ctx, "plant-1", SessionFilters{Limit: 2, Offset: 2})
	if len(page) != 2 || page[0].ID != "s-1" || page[1].ID != "s-4" {
		t.Errorf("page = %v", ids(page))
	}

	empty, _ := store.FindActive(ctx, "plant-1", SessionFilters{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d sessions", len(empty))
	}
}

func ids(sessions []model.InwardSession) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
