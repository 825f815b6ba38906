package geosync

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/field"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/wkt"
)

// LayerProcessor writes a ChangeSet into the local store. Application is
// best-effort per record: one bad record is reported and skipped, the rest
// of the set still lands.
type LayerProcessor struct {
	store     LocalStore
	precision int
	logger    *logging.Logger
}

// NewLayerProcessor returns a processor writing through the given store.
// precision is the coordinate precision applied to pulled geometry.
func NewLayerProcessor(store LocalStore, precision int) *LayerProcessor {
	return &LayerProcessor{
		store:     store,
		precision: precision,
		logger:    logging.WithComponent(logging.Component("layer-processor")),
	}
}

// ApplyResult reports what Apply actually wrote.
type ApplyResult struct {
	Added   int
	Updated int
	Deleted int

	// Conflicts are records that turned dirty between diff and apply,
	// in addition to the ones the ChangeSet already carried.
	Conflicts []*Conflict

	Errors []RecordError
}

// Apply writes the change set for one model. Dirty local records are
// re-checked against the store at write time, so an edit made after the
// diff still wins over the remote version. A context cancellation stops
// between records; everything already applied stays applied.
func (lp *LayerProcessor) Apply(ctx context.Context, project, model string, cs *ChangeSet, fields *field.Processor) (*ApplyResult, error) {
	result := &ApplyResult{}
	log := lp.logger.WithModel(model)

	for _, remote := range cs.Added {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := lp.insert(ctx, project, model, remote, fields); err != nil {
			result.Errors = append(result.Errors, recordError(remote.ID, err))
			log.LogError(ctx, err, "insert failed", slog.String("remote_id", remote.ID))
			continue
		}
		result.Added++
	}

	for _, pair := range cs.Updated {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		conflicted, err := lp.update(ctx, pair, fields)
		if err != nil {
			result.Errors = append(result.Errors, recordError(pair.Remote.ID, err))
			log.LogError(ctx, err, "update failed", slog.String("remote_id", pair.Remote.ID))
			continue
		}
		if conflicted != nil {
			result.Conflicts = append(result.Conflicts, conflicted)
			continue
		}
		result.Updated++
	}

	for _, local := range cs.Deleted {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		conflicted, err := lp.remove(ctx, local)
		if err != nil {
			result.Errors = append(result.Errors, recordError(local.RemoteID, err))
			log.LogError(ctx, err, "delete failed", slog.String("remote_id", local.RemoteID))
			continue
		}
		if conflicted != nil {
			result.Conflicts = append(result.Conflicts, conflicted)
			continue
		}
		result.Deleted++
	}

	return result, nil
}

func (lp *LayerProcessor) insert(ctx context.Context, project, model string, remote *RemoteRecord, fields *field.Processor) error {
	localFields, err := fields.MapToLocal(remote.Fields)
	if err != nil {
		return err
	}
	geom, err := lp.pullGeometry(remote.Geometry)
	if err != nil {
		return err
	}

	rec := &LocalRecord{
		ID:              uuid.New(),
		RemoteID:        remote.ID,
		Model:           model,
		Geometry:        geom,
		Fields:          localFields,
		RemoteUpdatedAt: remote.UpdatedAt,
	}
	if err := lp.store.Insert(ctx, project, rec); err != nil {
		return syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	return nil
}

func (lp *LayerProcessor) update(ctx context.Context, pair ChangePair, fields *field.Processor) (*Conflict, error) {
	current, err := lp.store.Get(ctx, pair.Local.ID)
	if err != nil {
		return nil, syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	if current.Dirty {
		return &Conflict{RemoteID: pair.Remote.ID, Local: current, Remote: pair.Remote}, nil
	}

	localFields, err := fields.MapToLocal(pair.Remote.Fields)
	if err != nil {
		return nil, err
	}
	geom, err := lp.pullGeometry(pair.Remote.Geometry)
	if err != nil {
		return nil, err
	}

	current.Fields = localFields
	current.Geometry = geom
	current.RemoteUpdatedAt = pair.Remote.UpdatedAt
	current.Dirty = false
	if err := lp.store.Update(ctx, current); err != nil {
		return nil, syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	return nil, nil
}

func (lp *LayerProcessor) remove(ctx context.Context, local *LocalRecord) (*Conflict, error) {
	current, err := lp.store.Get(ctx, local.ID)
	if err != nil {
		return nil, syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	if current.Dirty {
		return &Conflict{RemoteID: local.RemoteID, Local: current}, nil
	}
	if err := lp.store.Delete(ctx, local.ID); err != nil {
		return nil, syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	return nil, nil
}

func (lp *LayerProcessor) pullGeometry(text string) (*wkt.Geometry, error) {
	if text == "" {
		return nil, nil
	}
	g, _, err := wkt.ParseEWKT(text)
	if err != nil {
		return nil, err
	}
	return wkt.Round(g, lp.precision), nil
}

func recordError(id string, err error) RecordError {
	return RecordError{
		ID:      id,
		Kind:    string(syncErrors.KindOf(err)),
		Message: err.Error(),
	}
}
