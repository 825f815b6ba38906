// Package sqlite provides the SQLite implementation of the geosync local
// feature store and sync state store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/geodbio/geosync"
	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/marker"
	"github.com/geodbio/geosync/wkt"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opList   = "sqlite.List"
	opGet    = "sqlite.Get"
	opInsert = "sqlite.Insert"
	opUpdate = "sqlite.Update"
	opDelete = "sqlite.Delete"
	opLoad   = "sqlite.LoadState"
	opSave   = "sqlite.SaveState"
	opReset  = "sqlite.ResetState"
	opQueue  = "sqlite.QueueDeletion"
	opPend   = "sqlite.PendingDeletions"
	opClear  = "sqlite.ClearDeletions"
)

// Custom errors for better error handling
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrStoreClosed    = errors.New("store is closed")
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:features.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to
	// DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements geosync.LocalStore and geosync.StateStore over one
// SQLite database.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time checks
var (
	_ geosync.LocalStore = (*Store)(nil)
	_ geosync.StateStore = (*Store)(nil)
)

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logging.WithComponent(logging.Component("sqlite-store")),
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS features (
        id                 TEXT PRIMARY KEY,
        project            TEXT NOT NULL,
        model              TEXT NOT NULL,
        remote_id          TEXT NOT NULL DEFAULT '',
        geometry           TEXT,
        fields             TEXT,
        dirty              INTEGER NOT NULL DEFAULT 0,
        remote_updated_at  TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_features_model ON features (project, model);
    CREATE UNIQUE INDEX IF NOT EXISTS idx_features_remote
        ON features (project, model, remote_id) WHERE remote_id != '';

    CREATE TABLE IF NOT EXISTS sync_state (
        project    TEXT NOT NULL,
        model      TEXT NOT NULL,
        last_sync  TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (project, model)
    );

    CREATE TABLE IF NOT EXISTS sync_seen (
        project      TEXT NOT NULL,
        model        TEXT NOT NULL,
        remote_id    TEXT NOT NULL,
        observed_at  TEXT NOT NULL,
        PRIMARY KEY (project, model, remote_id)
    );

    CREATE TABLE IF NOT EXISTS sync_deletions (
        project    TEXT NOT NULL,
        model      TEXT NOT NULL,
        remote_id  TEXT NOT NULL,
        queued_at  TEXT NOT NULL,
        PRIMARY KEY (project, model, remote_id)
    );
    `
	_, err := s.db.Exec(query)
	return err
}

// List returns all feature records for one model.
func (s *Store) List(ctx context.Context, project, model string) ([]*geosync.LocalRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, remote_id, geometry, fields, dirty, remote_updated_at
              FROM features WHERE project = ? AND model = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, project, model)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
	}
	defer rows.Close()

	var records []*geosync.LocalRecord
	for rows.Next() {
		rec, err := scanRecord(rows, model)
		if err != nil {
			return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
	}

	return records, nil
}

// Get returns one record by local ID, or ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*geosync.LocalRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, remote_id, geometry, fields, dirty, remote_updated_at, model
              FROM features WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id.String())

	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, "storage/sqlite")
	}
	return rec, nil
}

// Insert stores a new record. A zero ID is assigned a fresh UUID.
func (s *Store) Insert(ctx context.Context, project string, rec *geosync.LocalRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	geomJSON, fieldsJSON, err := encodeRecord(rec)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opInsert, "storage/sqlite")
	}

	query := `INSERT INTO features (id, project, model, remote_id, geometry, fields, dirty, remote_updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID.String(), project, rec.Model, rec.RemoteID,
		geomJSON, fieldsJSON, boolToInt(rec.Dirty), encodeTime(rec.RemoteUpdatedAt))
	if err != nil {
		return syncErrors.WrapOpComponent(err, opInsert, "storage/sqlite")
	}
	return nil
}

// Update rewrites an existing record.
func (s *Store) Update(ctx context.Context, rec *geosync.LocalRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	geomJSON, fieldsJSON, err := encodeRecord(rec)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, "storage/sqlite")
	}

	query := `UPDATE features SET remote_id = ?, geometry = ?, fields = ?, dirty = ?, remote_updated_at = ?
              WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		rec.RemoteID, geomJSON, fieldsJSON, boolToInt(rec.Dirty),
		encodeTime(rec.RemoteUpdatedAt), rec.ID.String())
	if err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, "storage/sqlite")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes a record by local ID. Deleting a missing record is not
// an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id.String())
	if err != nil {
		return syncErrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}
	return nil
}

// Load returns the persisted sync state, or nil when the model has never
// been synced.
func (s *Store) Load(ctx context.Context, project, model string) (*geosync.SyncState, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var lastSync string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_state WHERE project = ? AND model = ?`,
		project, model).Scan(&lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
	}

	state := geosync.NewSyncState(project, model)
	if lastSync != "" {
		m, err := marker.Parse(lastSync)
		if err != nil {
			return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
		}
		state.LastSync = m
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_id, observed_at FROM sync_seen WHERE project = ? AND model = ?`,
		project, model)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
	}
	defer rows.Close()

	for rows.Next() {
		var remoteID, observedAt string
		if err := rows.Scan(&remoteID, &observedAt); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
		}
		m, err := marker.Parse(observedAt)
		if err != nil {
			return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
		}
		state.Seen[remoteID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoad, "storage/sqlite")
	}

	return state, nil
}

// Save rewrites the sync state atomically.
func (s *Store) Save(ctx context.Context, state *geosync.SyncState) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_state (project, model, last_sync) VALUES (?, ?, ?)
         ON CONFLICT (project, model) DO UPDATE SET last_sync = excluded.last_sync`,
		state.Project, state.Model, state.LastSync.String())
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM sync_seen WHERE project = ? AND model = ?`,
		state.Project, state.Model)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
	}

	if len(state.Seen) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO sync_seen (project, model, remote_id, observed_at) VALUES (?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
		}
		defer stmt.Close()

		for remoteID, observed := range state.Seen {
			if _, err = stmt.ExecContext(ctx, state.Project, state.Model, remoteID, observed.String()); err != nil {
				return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opSave, "storage/sqlite")
	}
	return nil
}

// Reset discards sync state so the next pull fetches a full snapshot.
func (s *Store) Reset(ctx context.Context, project, model string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opReset, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM sync_state WHERE project = ? AND model = ?`, project, model); err != nil {
		return syncErrors.WrapOpComponent(err, opReset, "storage/sqlite")
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM sync_seen WHERE project = ? AND model = ?`, project, model); err != nil {
		return syncErrors.WrapOpComponent(err, opReset, "storage/sqlite")
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opReset, "storage/sqlite")
	}
	return nil
}

// QueueDeletion records a local deletion that still has to reach the
// remote service. Queued entries survive Reset; they are unpushed edits.
func (s *Store) QueueDeletion(ctx context.Context, project, model, remoteID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO sync_deletions (project, model, remote_id, queued_at)
              VALUES (?, ?, ?, ?)
              ON CONFLICT (project, model, remote_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, project, model, remoteID, encodeTime(time.Now())); err != nil {
		return syncErrors.WrapOpComponent(err, opQueue, "storage/sqlite")
	}
	return nil
}

// PendingDeletions returns queued remote IDs in insertion-stable order.
func (s *Store) PendingDeletions(ctx context.Context, project, model string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT remote_id FROM sync_deletions
              WHERE project = ? AND model = ? ORDER BY queued_at, remote_id`
	rows, err := s.db.QueryContext(ctx, query, project, model)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opPend, "storage/sqlite")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var remoteID string
		if err := rows.Scan(&remoteID); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opPend, "storage/sqlite")
		}
		out = append(out, remoteID)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opPend, "storage/sqlite")
	}
	return out, nil
}

// ClearDeletions drops queued deletions the server has acknowledged.
func (s *Store) ClearDeletions(ctx context.Context, project, model string, remoteIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(remoteIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opClear, "storage/sqlite")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, remoteID := range remoteIDs {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM sync_deletions WHERE project = ? AND model = ? AND remote_id = ?`,
			project, model, remoteID); err != nil {
			return syncErrors.WrapOpComponent(err, opClear, "storage/sqlite")
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opClear, "storage/sqlite")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}

	return s.db.Stats()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func encodeRecord(rec *geosync.LocalRecord) (geom, fields sql.NullString, err error) {
	if rec.Geometry != nil && !rec.Geometry.IsEmpty() {
		data, merr := json.Marshal(rec.Geometry)
		if merr != nil {
			return geom, fields, merr
		}
		geom = sql.NullString{String: string(data), Valid: true}
	}
	if rec.Fields != nil {
		fields, err = encodeFields(rec.Fields)
		if err != nil {
			return geom, fields, err
		}
	}
	return geom, fields, nil
}

// storedValue tags each attribute with its Go type so timestamps and
// geometries survive the JSON column instead of reloading as plain maps
// and strings.
type storedValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

func encodeFields(fields map[string]interface{}) (sql.NullString, error) {
	out := make(map[string]storedValue, len(fields))
	for name, value := range fields {
		sv, err := encodeValue(value)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = sv
	}
	data, err := json.Marshal(out)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeValue(value interface{}) (storedValue, error) {
	var (
		tag string
		raw []byte
		err error
	)
	switch v := value.(type) {
	case nil:
		return storedValue{Type: "null"}, nil
	case string:
		tag = "string"
		raw, err = json.Marshal(v)
	case bool:
		tag = "bool"
		raw, err = json.Marshal(v)
	case int:
		tag = "int"
		raw, err = json.Marshal(int64(v))
	case int64:
		tag = "int"
		raw, err = json.Marshal(v)
	case float64:
		tag = "float"
		raw, err = json.Marshal(v)
	case time.Time:
		tag = "time"
		raw, err = json.Marshal(v.UTC().Format(time.RFC3339Nano))
	case *wkt.Geometry:
		tag = "geometry"
		raw, err = json.Marshal(v)
	default:
		tag = "json"
		raw, err = json.Marshal(v)
	}
	if err != nil {
		return storedValue{}, err
	}
	return storedValue{Type: tag, Value: raw}, nil
}

func decodeFields(data string) (map[string]interface{}, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, err
	}
	fields := make(map[string]interface{}, len(stored))
	for name, sv := range stored {
		value, err := decodeValue(sv)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = value
	}
	return fields, nil
}

func decodeValue(sv storedValue) (interface{}, error) {
	switch sv.Type {
	case "null":
		return nil, nil
	case "string":
		var s string
		err := json.Unmarshal(sv.Value, &s)
		return s, err
	case "bool":
		var b bool
		err := json.Unmarshal(sv.Value, &b)
		return b, err
	case "int":
		var n int64
		err := json.Unmarshal(sv.Value, &n)
		return n, err
	case "float":
		var f float64
		err := json.Unmarshal(sv.Value, &f)
		return f, err
	case "time":
		var s string
		if err := json.Unmarshal(sv.Value, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case "geometry":
		var g wkt.Geometry
		if err := json.Unmarshal(sv.Value, &g); err != nil {
			return nil, err
		}
		return &g, nil
	case "json":
		var v interface{}
		err := json.Unmarshal(sv.Value, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown stored value type %q", sv.Type)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(rows *sql.Rows, model string) (*geosync.LocalRecord, error) {
	var idStr, remoteID, updatedAt string
	var geom, fields sql.NullString
	var dirty int

	if err := rows.Scan(&idStr, &remoteID, &geom, &fields, &dirty, &updatedAt); err != nil {
		return nil, err
	}
	return buildRecord(idStr, remoteID, model, geom, fields, dirty, updatedAt)
}

func scanRecordRow(row rowScanner) (*geosync.LocalRecord, error) {
	var idStr, remoteID, updatedAt, model string
	var geom, fields sql.NullString
	var dirty int

	if err := row.Scan(&idStr, &remoteID, &geom, &fields, &dirty, &updatedAt, &model); err != nil {
		return nil, err
	}
	return buildRecord(idStr, remoteID, model, geom, fields, dirty, updatedAt)
}

func buildRecord(idStr, remoteID, model string, geom, fields sql.NullString, dirty int, updatedAt string) (*geosync.LocalRecord, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", idStr, err)
	}

	rec := &geosync.LocalRecord{
		ID:       id,
		RemoteID: remoteID,
		Model:    model,
		Dirty:    dirty != 0,
	}
	if geom.Valid {
		var g wkt.Geometry
		if err := json.Unmarshal([]byte(geom.String), &g); err != nil {
			return nil, fmt.Errorf("invalid stored geometry for %s: %w", idStr, err)
		}
		rec.Geometry = &g
	}
	if fields.Valid {
		decoded, err := decodeFields(fields.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored fields for %s: %w", idStr, err)
		}
		rec.Fields = decoded
	}
	if updatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid stored timestamp for %s: %w", idStr, err)
		}
		rec.RemoteUpdatedAt = ts
	}
	return rec, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
