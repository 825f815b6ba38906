package geosync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/field"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/marker"
	"github.com/geodbio/geosync/wkt"
)

// ManagerOptions configures a DataManager.
type ManagerOptions struct {
	// Precision is the coordinate precision for pulled and pushed
	// geometry.
	Precision int

	// SRID is stamped onto pushed geometry text.
	SRID int

	// Timeout bounds each pull or push cycle. Zero disables it.
	Timeout time.Duration

	// Retry configures transport retries. Nil disables retrying.
	Retry *RetryConfig

	// Schemas maps model names to their attribute schemas. Models
	// without a schema cannot be synced.
	Schemas map[string]field.Schema

	// OnProgress receives coarse progress milestones. Optional.
	OnProgress ProgressFunc

	// Metrics receives cycle observations. Defaults to a no-op.
	Metrics MetricsCollector
}

// DefaultManagerOptions returns the service defaults: six decimal places,
// EPSG:4326, a thirty second cycle timeout and three transport attempts.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Precision: wkt.DefaultPrecision,
		SRID:      4326,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		Metrics:   &NoOpMetricsCollector{},
	}
}

// DataManager orchestrates pull and push cycles for feature models. At
// most one cycle runs per (project, model) pair at a time; a second
// caller gets an error instead of queueing.
type DataManager struct {
	transport Transport
	store     LocalStore
	states    StateStore
	differ    *SyncManager
	layers    *LayerProcessor
	options   ManagerOptions
	fields    map[string]*field.Processor
	logger    *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
}

// NewDataManager wires a manager over the given transport and stores.
func NewDataManager(transport Transport, store LocalStore, states StateStore, options ManagerOptions) (*DataManager, error) {
	if transport == nil || store == nil || states == nil {
		return nil, fmt.Errorf("transport, store and state store are required")
	}
	if options.Precision == 0 {
		options.Precision = wkt.DefaultPrecision
	}
	if options.SRID == 0 {
		options.SRID = 4326
	}
	if options.Metrics == nil {
		options.Metrics = &NoOpMetricsCollector{}
	}

	fields := make(map[string]*field.Processor, len(options.Schemas))
	for model, schema := range options.Schemas {
		if schema.Model == "" {
			schema.Model = model
		}
		fields[model] = field.NewProcessor(schema, options.Precision)
	}

	return &DataManager{
		transport: transport,
		store:     store,
		states:    states,
		differ:    NewSyncManager(),
		layers:    NewLayerProcessor(store, options.Precision),
		options:   options,
		fields:    fields,
		logger:    logging.WithComponent(logging.Component("data-manager")),
		inFlight:  make(map[string]struct{}),
	}, nil
}

// PullModelData fetches remote changes for one model and applies them to
// the local store. Dirty local records are never overwritten; they become
// conflicts in the result. Sync state advances only after apply.
func (dm *DataManager) PullModelData(ctx context.Context, project, model string) (*PullResult, error) {
	release, err := dm.acquire(project, model)
	if err != nil {
		return nil, err
	}
	defer release()

	fields, err := dm.fieldsFor(model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &PullResult{Model: model}
	defer func() {
		result.Duration = time.Since(start)
		dm.options.Metrics.RecordCycleDuration("pull", model, result.Duration)
	}()

	ctx, cancel := dm.withTimeout(ctx)
	defer cancel()
	log := dm.logger.WithOperation(logging.Operation(syncErrors.OpPull)).WithModel(model)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := dm.loadState(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("pull", model, err)
	}

	dm.progress(10, "fetching remote changes")
	var page *FetchPage
	err = withRetry(ctx, dm.options.Retry, func() error {
		var ferr error
		page, ferr = dm.transport.Fetch(ctx, project, model, state.LastSync)
		return ferr
	})
	if err != nil {
		return nil, dm.fatal("pull", model, err)
	}

	pending, err := dm.states.PendingDeletions(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("pull", model, syncErrors.New(syncErrors.OpState, err))
	}
	if len(pending) > 0 {
		// A record queued for deletion must not come back through a
		// pull before the deletion has reached the server.
		skip := make(map[string]struct{}, len(pending))
		for _, remoteID := range pending {
			skip[remoteID] = struct{}{}
		}
		kept := make([]*RemoteRecord, 0, len(page.Records))
		for _, remote := range page.Records {
			if _, ok := skip[remote.ID]; ok {
				log.Debug("skipping record with queued local deletion", slog.String("remote_id", remote.ID))
				continue
			}
			kept = append(kept, remote)
		}
		page.Records = kept
	}

	dm.progress(30, "diffing against local store")
	locals, err := dm.store.List(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("pull", model, syncErrors.NewLayerError(syncErrors.OpDiff, err))
	}
	cs := dm.differ.Diff(page, locals)

	dm.progress(60, "applying changes")
	applied, applyErr := dm.layers.Apply(ctx, project, model, cs, fields)

	result.Added = applied.Added
	result.Updated = applied.Updated
	result.Deleted = applied.Deleted
	result.Unchanged = cs.Unchanged
	result.Conflicted = len(cs.Conflicted) + len(applied.Conflicts)
	result.Errors = append(append(result.Errors, cs.Errors...), applied.Errors...)

	if applyErr != nil {
		// Cancelled mid-apply. Applied records stand, but the marker
		// must not advance past work that never landed.
		return result, dm.fatal("pull", model, applyErr)
	}

	dm.progress(90, "saving sync state")
	dm.advanceState(state, page)
	if err := dm.states.Save(ctx, state); err != nil {
		return result, dm.fatal("pull", model, syncErrors.New(syncErrors.OpState, err))
	}

	dm.options.Metrics.RecordRecords("pull", model, cs.Total())
	if result.Conflicted > 0 {
		dm.options.Metrics.RecordConflicts(model, result.Conflicted)
	}
	log.Info("pull complete",
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("conflicted", result.Conflicted),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("record_errors", len(result.Errors)))
	dm.progress(100, "pull complete")
	return result, nil
}

// PushModelData sends dirty and never-pushed local records for one model,
// along with any queued local deletions. Records failing validation are
// skipped and reported; accepted records are marked clean and linked to
// their remote identity. The pull marker is untouched so remote edits made
// during the push window surface on the next pull.
func (dm *DataManager) PushModelData(ctx context.Context, project, model string) (*PushResult, error) {
	release, err := dm.acquire(project, model)
	if err != nil {
		return nil, err
	}
	defer release()

	fields, err := dm.fieldsFor(model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &PushResult{Model: model}
	defer func() {
		result.Duration = time.Since(start)
		dm.options.Metrics.RecordCycleDuration("push", model, result.Duration)
	}()

	ctx, cancel := dm.withTimeout(ctx)
	defer cancel()
	log := dm.logger.WithOperation(logging.Operation(syncErrors.OpPush)).WithModel(model)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := dm.loadState(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("push", model, err)
	}

	dm.progress(10, "collecting local edits")
	locals, err := dm.store.List(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("push", model, syncErrors.NewLayerError(syncErrors.OpPush, err))
	}

	batch := make([]*RemoteRecord, 0)
	byRef := make(map[string]*LocalRecord)
	for _, local := range locals {
		// Never-pushed records go out even when clean; nothing else
		// will ever link them to a remote identity.
		if !local.Dirty && local.HasRemote() {
			continue
		}
		remote, err := dm.outbound(local, fields)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, recordError(local.ID.String(), err))
			log.LogError(ctx, err, "record excluded from push", slog.String("local_id", local.ID.String()))
			continue
		}
		batch = append(batch, remote)
		byRef[remote.Ref] = local
	}

	pending, err := dm.states.PendingDeletions(ctx, project, model)
	if err != nil {
		return nil, dm.fatal("push", model, syncErrors.New(syncErrors.OpState, err))
	}
	byDeletion := make(map[string]string, len(pending))
	for _, remoteID := range pending {
		ref := "delete:" + remoteID
		batch = append(batch, &RemoteRecord{ID: remoteID, Model: model, Ref: ref, Deleted: true})
		byDeletion[ref] = remoteID
	}

	if len(batch) == 0 {
		dm.progress(100, "nothing to push")
		return result, nil
	}

	dm.progress(40, fmt.Sprintf("sending %d records", len(batch)))
	var acks []PushAck
	err = withRetry(ctx, dm.options.Retry, func() error {
		var serr error
		acks, serr = dm.transport.Send(ctx, project, model, batch)
		return serr
	})
	if err != nil {
		return result, dm.fatal("push", model, err)
	}
	result.Sent = len(batch)

	dm.progress(70, "reconciling acknowledgements")
	var cleared []string
	for _, ack := range acks {
		if remoteID, ok := byDeletion[ack.Ref]; ok {
			if ack.Error != "" {
				result.Errors = append(result.Errors, RecordError{
					ID:      remoteID,
					Kind:    string(syncErrors.KindValidation),
					Message: ack.Error,
				})
				continue
			}
			cleared = append(cleared, remoteID)
			delete(state.Seen, remoteID)
			result.Deleted++
			continue
		}

		local, ok := byRef[ack.Ref]
		if !ok {
			result.Errors = append(result.Errors, RecordError{
				ID:      ack.Ref,
				Kind:    string(syncErrors.KindServer),
				Message: "acknowledgement for unknown record",
			})
			continue
		}
		if ack.Error != "" {
			result.Errors = append(result.Errors, RecordError{
				ID:      local.ID.String(),
				Kind:    string(syncErrors.KindValidation),
				Message: ack.Error,
			})
			continue
		}

		created := !local.HasRemote()
		local.RemoteID = ack.RemoteID
		local.RemoteUpdatedAt = ack.UpdatedAt
		local.Dirty = false
		if err := dm.store.Update(ctx, local); err != nil {
			result.Errors = append(result.Errors, recordError(local.ID.String(),
				syncErrors.NewLayerError(syncErrors.OpReconcile, err)))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		state.Observe(ack.RemoteID, ack.UpdatedAt)
	}

	dm.progress(90, "saving sync state")
	if len(cleared) > 0 {
		if err := dm.states.ClearDeletions(ctx, project, model, cleared); err != nil {
			return result, dm.fatal("push", model, syncErrors.New(syncErrors.OpState, err))
		}
	}
	if err := dm.states.Save(ctx, state); err != nil {
		return result, dm.fatal("push", model, syncErrors.New(syncErrors.OpState, err))
	}

	dm.options.Metrics.RecordRecords("push", model, result.Created+result.Updated+result.Deleted)
	log.Info("push complete",
		slog.Int("sent", result.Sent),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped),
		slog.Int("record_errors", len(result.Errors)))
	dm.progress(100, "push complete")
	return result, nil
}

// SyncModelData runs a pull followed by a push, so remote changes land
// before local edits go out.
func (dm *DataManager) SyncModelData(ctx context.Context, project, model string) (*PullResult, *PushResult, error) {
	pull, err := dm.PullModelData(ctx, project, model)
	if err != nil {
		return pull, nil, err
	}
	push, err := dm.PushModelData(ctx, project, model)
	return pull, push, err
}

// ResetSyncState discards the per-model state so the next pull fetches a
// full snapshot.
func (dm *DataManager) ResetSyncState(ctx context.Context, project, model string) error {
	return dm.states.Reset(ctx, project, model)
}

// DeleteRecord removes a local feature. When the record is linked to a
// remote identity the deletion is queued and propagated to the server on
// the next push; unlinked records just disappear.
func (dm *DataManager) DeleteRecord(ctx context.Context, project string, id uuid.UUID) error {
	rec, err := dm.store.Get(ctx, id)
	if err != nil {
		return syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	if rec.HasRemote() {
		if err := dm.states.QueueDeletion(ctx, project, rec.Model, rec.RemoteID); err != nil {
			return syncErrors.New(syncErrors.OpState, err)
		}
	}
	if err := dm.store.Delete(ctx, id); err != nil {
		return syncErrors.NewLayerError(syncErrors.OpApply, err)
	}
	return nil
}

// SyncStatus reports where a model stands without running a cycle.
func (dm *DataManager) SyncStatus(ctx context.Context, project, model string) (*ModelStatus, error) {
	state, err := dm.loadState(ctx, project, model)
	if err != nil {
		return nil, err
	}
	locals, err := dm.store.List(ctx, project, model)
	if err != nil {
		return nil, syncErrors.NewLayerError(syncErrors.OpState, err)
	}

	status := &ModelStatus{
		Project:  project,
		Model:    model,
		LastSync: state.LastSync,
		Tracked:  len(state.Seen),
		Local:    len(locals),
	}
	for _, rec := range locals {
		if rec.Dirty {
			status.PendingPush++
		}
	}
	return status, nil
}

// Close releases the transport. In-flight cycles finish; new cycles are
// rejected.
func (dm *DataManager) Close() error {
	dm.mu.Lock()
	if dm.closed {
		dm.mu.Unlock()
		return nil
	}
	dm.closed = true
	dm.mu.Unlock()

	return dm.transport.Close()
}

func (dm *DataManager) acquire(project, model string) (func(), error) {
	key := project + "/" + model

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil, fmt.Errorf("data manager is closed")
	}
	if _, busy := dm.inFlight[key]; busy {
		return nil, syncErrors.NewValidationError(syncErrors.OpState,
			fmt.Errorf("sync already in progress for %s", key))
	}
	dm.inFlight[key] = struct{}{}

	return func() {
		dm.mu.Lock()
		delete(dm.inFlight, key)
		dm.mu.Unlock()
	}, nil
}

func (dm *DataManager) fieldsFor(model string) (*field.Processor, error) {
	fp, ok := dm.fields[model]
	if !ok {
		return nil, syncErrors.NewValidationError(syncErrors.OpValidate,
			fmt.Errorf("no schema configured for model %q", model))
	}
	return fp, nil
}

func (dm *DataManager) loadState(ctx context.Context, project, model string) (*SyncState, error) {
	state, err := dm.states.Load(ctx, project, model)
	if err != nil {
		return nil, syncErrors.New(syncErrors.OpState, err)
	}
	if state == nil {
		state = NewSyncState(project, model)
	}
	return state, nil
}

// advanceState moves the pull marker and reconciles the seen map with the
// applied window.
func (dm *DataManager) advanceState(state *SyncState, page *FetchPage) {
	next := marker.At(page.ServerTime)
	if next.IsZero() {
		for _, remote := range page.Records {
			next = next.Advance(marker.At(remote.UpdatedAt))
		}
	}
	state.LastSync = state.LastSync.Advance(next)

	if page.Complete {
		state.Seen = make(map[string]marker.Marker, len(page.Records))
	}
	for _, remote := range page.Records {
		if remote.ID != "" {
			state.Observe(remote.ID, remote.UpdatedAt)
		}
	}
	for _, remoteID := range page.DeletedIDs {
		delete(state.Seen, remoteID)
	}
}

// outbound builds the wire record for one dirty local record.
func (dm *DataManager) outbound(local *LocalRecord, fields *field.Processor) (*RemoteRecord, error) {
	if err := fields.Validate(local.Fields); err != nil {
		return nil, err
	}

	var geomText string
	if local.Geometry != nil && !local.Geometry.IsEmpty() {
		text, err := wkt.FormatEWKT(local.Geometry, dm.options.SRID, dm.options.Precision)
		if err != nil {
			return nil, err
		}
		geomText = text
	}

	return &RemoteRecord{
		ID:       local.RemoteID,
		Model:    local.Model,
		Geometry: geomText,
		Fields:   fields.MapToRemote(local.Fields),
		Ref:      refFor(local),
	}, nil
}

func refFor(local *LocalRecord) string {
	if local.ID == uuid.Nil {
		return local.RemoteID
	}
	return local.ID.String()
}

func (dm *DataManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if dm.options.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dm.options.Timeout)
}

func (dm *DataManager) progress(percent int, message string) {
	if dm.options.OnProgress != nil {
		dm.options.OnProgress(percent, message)
	}
}

func (dm *DataManager) fatal(op, model string, err error) error {
	dm.options.Metrics.RecordCycleErrors(op, model, string(syncErrors.KindOf(err)))
	dm.logger.WithModel(model).LogError(context.Background(), err, op+" failed")
	return err
}
