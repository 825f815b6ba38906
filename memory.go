package geosync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/geodbio/geosync/marker"
)

// ErrNotFound is returned by MemoryStore.Get for unknown IDs.
var ErrNotFound = errors.New("record not found")

// MemoryStore is an in-memory LocalStore and StateStore. It is intended
// for tests and short-lived tooling; durable deployments use the sqlite
// store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[uuid.UUID]*LocalRecord
	project   map[uuid.UUID]string
	states    map[string]*SyncState
	deletions map[string]map[string]struct{}
}

var (
	_ LocalStore = (*MemoryStore)(nil)
	_ StateStore = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[uuid.UUID]*LocalRecord),
		project:   make(map[uuid.UUID]string),
		states:    make(map[string]*SyncState),
		deletions: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) List(ctx context.Context, project, model string) ([]*LocalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*LocalRecord
	for id, rec := range s.records {
		if s.project[id] == project && rec.Model == model {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*LocalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, project string, rec *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	s.records[rec.ID] = rec.Clone()
	s.project[rec.ID] = project
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	delete(s.project, id)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, project, model string) (*SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[project+"/"+model]
	if !ok {
		return nil, nil
	}
	return cloneState(state), nil
}

func (s *MemoryStore) Save(ctx context.Context, state *SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.Project+"/"+state.Model] = cloneState(state)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, project, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, project+"/"+model)
	return nil
}

func (s *MemoryStore) QueueDeletion(ctx context.Context, project, model, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := project + "/" + model
	if s.deletions[key] == nil {
		s.deletions[key] = make(map[string]struct{})
	}
	s.deletions[key][remoteID] = struct{}{}
	return nil
}

func (s *MemoryStore) PendingDeletions(ctx context.Context, project, model string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.deletions[project+"/"+model]
	out := make([]string, 0, len(pending))
	for remoteID := range pending {
		out = append(out, remoteID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ClearDeletions(ctx context.Context, project, model string, remoteIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.deletions[project+"/"+model]
	for _, remoteID := range remoteIDs {
		delete(pending, remoteID)
	}
	return nil
}

func cloneState(state *SyncState) *SyncState {
	out := &SyncState{
		Project:  state.Project,
		Model:    state.Model,
		LastSync: state.LastSync,
		Seen:     make(map[string]marker.Marker, len(state.Seen)),
	}
	for k, v := range state.Seen {
		out.Seen[k] = v
	}
	return out
}
