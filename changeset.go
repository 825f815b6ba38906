package geosync

import (
	"log/slog"

	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/wkt"
)

// SyncManager partitions a fetched remote window against the local store.
// It never writes; applying the resulting ChangeSet is the layer
// processor's job.
type SyncManager struct {
	logger *logging.Logger
}

// NewSyncManager returns a diff engine.
func NewSyncManager() *SyncManager {
	return &SyncManager{
		logger: logging.WithComponent(logging.Component("sync-manager")),
	}
}

// Diff partitions the fetched page against the local records for the same
// model. Every record lands in exactly one partition. Records that cannot
// be classified are reported in Errors and excluded from the partitions.
//
// Deletion detection depends on the fetch mode: a full snapshot deletes by
// absence, an incremental window deletes only what DeletedIDs names. A
// dirty local record is never deleted or overwritten; when the remote side
// changed or removed it, the record becomes a conflict instead.
func (m *SyncManager) Diff(page *FetchPage, locals []*LocalRecord) *ChangeSet {
	cs := &ChangeSet{FullSnapshot: page.Complete}

	byRemoteID := make(map[string]*LocalRecord, len(locals))
	for _, local := range locals {
		if local.HasRemote() {
			byRemoteID[local.RemoteID] = local
		}
	}

	deleted := make(map[string]struct{}, len(page.DeletedIDs))
	if !page.Complete {
		for _, remoteID := range page.DeletedIDs {
			deleted[remoteID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(page.Records))
	for _, remote := range page.Records {
		if remote.ID == "" {
			cs.Errors = append(cs.Errors, RecordError{
				Kind:    string(syncErrors.KindValidation),
				Message: "remote record has no id",
			})
			continue
		}
		if _, dup := seen[remote.ID]; dup {
			cs.Errors = append(cs.Errors, RecordError{
				ID:      remote.ID,
				Kind:    string(syncErrors.KindValidation),
				Message: "duplicate remote id in fetch window",
			})
			continue
		}
		seen[remote.ID] = struct{}{}

		if _, removed := deleted[remote.ID]; removed {
			// The window both updated and deleted the record; the delete
			// wins because it is the later event.
			m.logger.Warn("fetch window contains update and delete for same record",
				slog.String("remote_id", remote.ID))
			continue
		}

		if remote.Geometry != "" {
			if _, _, err := wkt.ParseEWKT(remote.Geometry); err != nil {
				cs.Errors = append(cs.Errors, RecordError{
					ID:      remote.ID,
					Kind:    string(syncErrors.KindGeometry),
					Message: err.Error(),
				})
				continue
			}
		}

		local, exists := byRemoteID[remote.ID]
		if !exists {
			cs.Added = append(cs.Added, remote)
			continue
		}

		remoteChanged := remote.UpdatedAt.After(local.RemoteUpdatedAt)
		switch {
		case local.Dirty && remoteChanged:
			cs.Conflicted = append(cs.Conflicted, &Conflict{
				RemoteID: remote.ID,
				Local:    local,
				Remote:   remote,
			})
		case remoteChanged:
			cs.Updated = append(cs.Updated, ChangePair{Local: local, Remote: remote})
		default:
			cs.Unchanged++
		}
	}

	if page.Complete {
		for _, local := range locals {
			if !local.HasRemote() {
				continue
			}
			if _, present := seen[local.RemoteID]; present {
				continue
			}
			m.markRemoved(cs, local)
		}
	} else {
		for _, remoteID := range page.DeletedIDs {
			local, exists := byRemoteID[remoteID]
			if !exists {
				continue
			}
			delete(byRemoteID, remoteID)
			m.markRemoved(cs, local)
		}
	}

	return cs
}

func (m *SyncManager) markRemoved(cs *ChangeSet, local *LocalRecord) {
	if local.Dirty {
		cs.Conflicted = append(cs.Conflicted, &Conflict{
			RemoteID: local.RemoteID,
			Local:    local,
		})
		return
	}
	cs.Deleted = append(cs.Deleted, local)
}
