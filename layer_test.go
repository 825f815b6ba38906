package geosync

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/geodbio/geosync/field"
)

func testFieldProcessor() *field.Processor {
	return field.NewProcessor(testSchemas()["pois"], 6)
}

func TestApplyRechecksDirtyAtWriteTime(t *testing.T) {
	store := NewMemoryStore()
	lp := NewLayerProcessor(store, 6)
	ctx := context.Background()

	local := &LocalRecord{
		ID: uuid.New(), RemoteID: "r-1", Model: "pois",
		Fields: map[string]interface{}{"name": "old"}, RemoteUpdatedAt: t0,
	}
	if err := store.Insert(ctx, "proj", local); err != nil {
		t.Fatal(err)
	}

	cs := &ChangeSet{Updated: []ChangePair{{
		Local:  local,
		Remote: &RemoteRecord{ID: "r-1", UpdatedAt: t1, Fields: map[string]interface{}{"title": "remote"}},
	}}}

	// The user edits between diff and apply.
	local.Dirty = true
	local.Fields = map[string]interface{}{"name": "late edit"}
	if err := store.Update(ctx, local); err != nil {
		t.Fatal(err)
	}

	result, err := lp.Apply(ctx, "proj", "pois", cs, testFieldProcessor())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Updated != 0 || len(result.Conflicts) != 1 {
		t.Errorf("result = %+v, want the update demoted to a conflict", result)
	}

	got, _ := store.Get(ctx, local.ID)
	if got.Fields["name"] != "late edit" || !got.Dirty {
		t.Errorf("late edit was lost: %+v", got)
	}
}

func TestApplyDeleteRechecksDirty(t *testing.T) {
	store := NewMemoryStore()
	lp := NewLayerProcessor(store, 6)
	ctx := context.Background()

	local := &LocalRecord{ID: uuid.New(), RemoteID: "r-1", Model: "pois", RemoteUpdatedAt: t0}
	if err := store.Insert(ctx, "proj", local); err != nil {
		t.Fatal(err)
	}

	cs := &ChangeSet{Deleted: []*LocalRecord{local}}

	local.Dirty = true
	if err := store.Update(ctx, local); err != nil {
		t.Fatal(err)
	}

	result, err := lp.Apply(ctx, "proj", "pois", cs, testFieldProcessor())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Deleted != 0 || len(result.Conflicts) != 1 {
		t.Errorf("result = %+v, want the delete demoted to a conflict", result)
	}
	if _, err := store.Get(ctx, local.ID); err != nil {
		t.Error("dirty record was deleted")
	}
}

func TestApplyContinuesPastBadRecords(t *testing.T) {
	store := NewMemoryStore()
	lp := NewLayerProcessor(store, 6)

	cs := &ChangeSet{Added: []*RemoteRecord{
		{ID: "r-bad", UpdatedAt: t1, Fields: map[string]interface{}{"visits": "many"}},
		{ID: "r-ok", UpdatedAt: t1, Fields: map[string]interface{}{"title": "fine"}},
	}}

	result, err := lp.Apply(context.Background(), "proj", "pois", cs, testFieldProcessor())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Added != 1 {
		t.Errorf("Added = %d, want 1", result.Added)
	}
	if len(result.Errors) != 1 || result.Errors[0].ID != "r-bad" {
		t.Errorf("Errors = %+v, want one for r-bad", result.Errors)
	}
}

type cancellingStore struct {
	*MemoryStore
	cancel  context.CancelFunc
	inserts int
}

func (s *cancellingStore) Insert(ctx context.Context, project string, rec *LocalRecord) error {
	s.inserts++
	if s.inserts == 1 {
		defer s.cancel()
	}
	return s.MemoryStore.Insert(ctx, project, rec)
}

func TestApplyCancellationKeepsAppliedRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &cancellingStore{MemoryStore: NewMemoryStore(), cancel: cancel}
	lp := NewLayerProcessor(store, 6)

	cs := &ChangeSet{Added: []*RemoteRecord{
		{ID: "r-1", UpdatedAt: t1, Fields: map[string]interface{}{"title": "a"}},
		{ID: "r-2", UpdatedAt: t1, Fields: map[string]interface{}{"title": "b"}},
	}}

	result, err := lp.Apply(ctx, "proj", "pois", cs, testFieldProcessor())
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if result.Added != 1 {
		t.Errorf("Added = %d, want 1 record applied before cancellation", result.Added)
	}

	records, _ := store.List(context.Background(), "proj", "pois")
	if len(records) != 1 {
		t.Errorf("store has %d records, want the applied one to stand", len(records))
	}
}
