// Package geosync synchronizes geospatial feature collections between a
// local store and a remote service. The local store is the working copy;
// the remote service is the source of truth for everything except local
// edits that have not yet been pushed.
package geosync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geodbio/geosync/marker"
	"github.com/geodbio/geosync/wkt"
)

// RemoteRecord is one feature as delivered by the remote service.
type RemoteRecord struct {
	// ID is the remote identifier, authoritative once assigned.
	ID string `json:"id"`

	Model string `json:"model,omitempty"`

	// Geometry is WKT or EWKT text. Empty means no geometry.
	Geometry string `json:"geometry,omitempty"`

	Fields map[string]interface{} `json:"fields"`

	UpdatedAt time.Time `json:"updated_at"`

	// Ref carries the local ID on push payloads so responses for new
	// records can be correlated back to the local row.
	Ref string `json:"ref,omitempty"`

	// Deleted marks a push payload entry as a deletion request for ID.
	Deleted bool `json:"deleted,omitempty"`
}

// LocalRecord is one feature row in the local store.
type LocalRecord struct {
	// ID is the stable local identifier, assigned at insert and never
	// reused.
	ID uuid.UUID

	// RemoteID is empty until the record has been accepted by the remote
	// service.
	RemoteID string

	Model string

	Geometry *wkt.Geometry

	Fields map[string]interface{}

	// Dirty marks local edits not yet pushed. Dirty records are never
	// overwritten by a pull.
	Dirty bool

	// RemoteUpdatedAt is the remote timestamp observed when this record
	// was last written from or acknowledged by the remote service.
	RemoteUpdatedAt time.Time
}

// HasRemote reports whether the record is linked to a remote identity.
func (r *LocalRecord) HasRemote() bool { return r.RemoteID != "" }

// Clone returns a deep copy safe to mutate independently.
func (r *LocalRecord) Clone() *LocalRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Geometry = r.Geometry.Clone()
	if r.Fields != nil {
		out.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// SyncState is the per-model synchronization high-water mark.
type SyncState struct {
	Project string
	Model   string

	// LastSync advances only after a fully applied pull.
	LastSync marker.Marker

	// Seen maps remote IDs to the remote timestamp last observed for
	// them, used to detect remote-side changes during diffing.
	Seen map[string]marker.Marker
}

// NewSyncState returns an empty state for one project and model.
func NewSyncState(project, model string) *SyncState {
	return &SyncState{
		Project: project,
		Model:   model,
		Seen:    make(map[string]marker.Marker),
	}
}

// Observe records the remote timestamp for a remote ID, keeping the
// newest value seen.
func (s *SyncState) Observe(remoteID string, at time.Time) {
	if s.Seen == nil {
		s.Seen = make(map[string]marker.Marker)
	}
	s.Seen[remoteID] = s.Seen[remoteID].Advance(marker.At(at))
}

// Conflict pairs a dirty local record with the remote version that
// changed underneath it. Remote is nil when the remote side deleted the
// record.
type Conflict struct {
	RemoteID string
	Local    *LocalRecord
	Remote   *RemoteRecord
}

// RecordError reports a per-record failure that did not stop the cycle.
type RecordError struct {
	// ID is the remote ID when known, otherwise the local ID.
	ID      string
	Kind    string
	Message string
}

// ChangeSet is the partitioned outcome of diffing a remote snapshot
// against the local store. Partitions are disjoint; a record appears in
// exactly one.
type ChangeSet struct {
	// Added are remote records with no local counterpart.
	Added []*RemoteRecord

	// Updated pairs clean local records with newer remote versions.
	Updated []ChangePair

	// Deleted are local records the remote side removed.
	Deleted []*LocalRecord

	// Conflicted are dirty local records the remote side also changed.
	Conflicted []*Conflict

	// Unchanged counts records needing no action.
	Unchanged int

	// Errors collects records excluded from the partitions.
	Errors []RecordError

	// FullSnapshot marks the remote input as complete, enabling
	// deletion detection by absence.
	FullSnapshot bool
}

// ChangePair holds the local record to update and the remote version to
// apply over it.
type ChangePair struct {
	Local  *LocalRecord
	Remote *RemoteRecord
}

// Total returns the number of records needing local writes.
func (cs *ChangeSet) Total() int {
	return len(cs.Added) + len(cs.Updated) + len(cs.Deleted)
}

// IsNoop reports whether the change set requires no action at all.
func (cs *ChangeSet) IsNoop() bool {
	return cs.Total() == 0 && len(cs.Conflicted) == 0 && len(cs.Errors) == 0
}

// PullResult summarizes one completed pull cycle.
type PullResult struct {
	Model      string
	Added      int
	Updated    int
	Deleted    int
	Conflicted int
	Unchanged  int
	Errors     []RecordError
	Duration   time.Duration
}

// Total counts every record the pull classified, including unchanged ones.
func (r *PullResult) Total() int {
	return r.Added + r.Updated + r.Deleted + r.Conflicted + r.Unchanged
}

// PushResult summarizes one completed push cycle.
type PushResult struct {
	Model    string
	Sent     int
	Created  int
	Updated  int
	Deleted  int
	Skipped  int
	Errors   []RecordError
	Duration time.Duration
}

// ModelStatus describes a model's sync position between cycles.
type ModelStatus struct {
	Project string
	Model   string

	// LastSync is the pull watermark. Zero means the next pull is a
	// full snapshot.
	LastSync marker.Marker

	// Tracked counts remote ids observed by previous cycles.
	Tracked int

	// Local counts records in the local store for this model.
	Local int

	// PendingPush counts dirty records awaiting the next push.
	PendingPush int
}

// PushAck is the per-record response from a push batch.
type PushAck struct {
	// Ref echoes RemoteRecord.Ref from the request.
	Ref string `json:"ref,omitempty"`

	RemoteID string `json:"id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Error is non-empty when the service rejected this record.
	Error string `json:"error,omitempty"`
}

// FetchPage is one page of records from the remote service.
type FetchPage struct {
	Records []*RemoteRecord

	// DeletedIDs lists remote IDs removed since the requested marker.
	// Only meaningful on incremental fetches.
	DeletedIDs []string

	// ServerTime is the service's snapshot timestamp, used to advance
	// LastSync without trusting client clocks.
	ServerTime time.Time

	// Complete marks the page set as a full snapshot rather than an
	// incremental window.
	Complete bool
}

// ProgressFunc receives coarse progress during a cycle. percent is 0-100.
// Implementations must be fast; they run on the sync goroutine.
type ProgressFunc func(percent int, message string)

// Transport moves records between the engine and the remote service.
type Transport interface {
	// Fetch returns all pages for a model. A zero since marker requests
	// a full snapshot.
	Fetch(ctx context.Context, project, model string, since marker.Marker) (*FetchPage, error)

	// Send pushes a batch of records and returns one ack per record.
	Send(ctx context.Context, project, model string, batch []*RemoteRecord) ([]PushAck, error)

	Close() error
}

// LocalStore is the engine's view of the local feature tables.
type LocalStore interface {
	List(ctx context.Context, project, model string) ([]*LocalRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*LocalRecord, error)
	Insert(ctx context.Context, project string, rec *LocalRecord) error
	Update(ctx context.Context, rec *LocalRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// StateStore persists per-model sync state across sessions, including
// the queue of local deletions awaiting the next push.
type StateStore interface {
	Load(ctx context.Context, project, model string) (*SyncState, error)
	Save(ctx context.Context, state *SyncState) error

	// Reset discards the state so the next pull is a full snapshot.
	// Queued deletions survive a reset; they are unpushed local edits.
	Reset(ctx context.Context, project, model string) error

	// QueueDeletion records that a linked local record was deleted and
	// the deletion still has to reach the remote service.
	QueueDeletion(ctx context.Context, project, model, remoteID string) error

	// PendingDeletions lists queued remote IDs in stable order.
	PendingDeletions(ctx context.Context, project, model string) ([]string, error)

	// ClearDeletions drops queued remote IDs acknowledged by the server.
	ClearDeletions(ctx context.Context, project, model string, remoteIDs []string) error
}
