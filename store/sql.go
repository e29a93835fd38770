package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Register the postgres driver used by OpenPostgres.
	_ "github.com/lib/pq"
)

const (
	createSnapshotsTable = `
		CREATE TABLE IF NOT EXISTS entity_snapshots (
			kind VARCHAR(255) NOT NULL,
			id VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL,
			state TEXT NOT NULL,
			meta TEXT NOT NULL,
			annotations TEXT,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (kind, id)
		)`

	selectSnapshotQuery = `
		SELECT kind, id, version, state, meta, annotations, updated_at
		FROM entity_snapshots
		WHERE kind = $1 AND id = $2`

	selectAllSnapshotsQuery = `
		SELECT kind, id, version, state, meta, annotations, updated_at
		FROM entity_snapshots`

	insertSnapshotQuery = `
		INSERT INTO entity_snapshots (kind, id, version, state, meta, annotations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateSnapshotQuery = `
		UPDATE entity_snapshots
		SET version = $1, state = $2, meta = $3, annotations = $4, updated_at = $5
		WHERE kind = $6 AND id = $7`

	updateSnapshotVersionQuery = `
		UPDATE entity_snapshots
		SET version = $1, state = $2, meta = $3, annotations = $4, updated_at = $5
		WHERE kind = $6 AND id = $7 AND version = $8`

	deleteSnapshotQuery = `
		DELETE FROM entity_snapshots
		WHERE kind = $1 AND id = $2`
)

// SQLSnapshotStore is a database/sql implementation of
// MutableSnapshotStore. It targets postgres but sticks to portable SQL so
// it also runs against embedded engines in tests.
type SQLSnapshotStore struct {
	db *sql.DB
}

// SQLSnapshotStore implements MutableSnapshotStore.
var _ MutableSnapshotStore = &SQLSnapshotStore{}

// NewSQLSnapshotStore creates a SQLSnapshotStore on top of an open
// database handle. The caller retains ownership of the handle.
func NewSQLSnapshotStore(db *sql.DB) *SQLSnapshotStore {
	return &SQLSnapshotStore{db: db}
}

// OpenPostgres opens a postgres database handle for the provided DSN and
// verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the snapshot table if it does not already exist.
func (s *SQLSnapshotStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}

	return nil
}

// Get returns the record with the supplied key, or ErrSnapshotNotFound if
// no such record exists.
func (s *SQLSnapshotStore) Get(ctx context.Context, key SnapshotKey) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshotQuery, key.Kind(), key.ID())

	var (
		kind        string
		id          string
		version     int64
		state       string
		meta        string
		annotations sql.NullString
		updatedAt   int64
	)
	if err := row.Scan(&kind, &id, &version, &state, &meta, &annotations, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}

		return Snapshot{}, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	return decodeSnapshot(kind, id, version, state, meta, annotations, updatedAt)
}

// Fetch returns all records in the store.
func (s *SQLSnapshotStore) Fetch(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSnapshotsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]Snapshot, 0)
	for rows.Next() {
		var (
			kind        string
			id          string
			version     int64
			state       string
			meta        string
			annotations sql.NullString
			updatedAt   int64
		)
		if err := rows.Scan(&kind, &id, &version, &state, &meta, &annotations, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		record, err := decodeSnapshot(kind, id, version, state, meta, annotations, updatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}

	return records, nil
}

// Filter returns all records that pass the provided filters. Filters are
// applied in the order they are provided after the records are read.
func (s *SQLSnapshotStore) Filter(ctx context.Context, filters ...FilterFunc[SnapshotKey, Snapshot]) ([]Snapshot, error) {
	records, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	for _, filter := range filters {
		records = filter(records)
	}

	return records, nil
}

// Add inserts a new record, stamping it with version 1 and the current
// time. It returns ErrSnapshotExists when a record with the same key is
// already present.
func (s *SQLSnapshotStore) Add(ctx context.Context, record Snapshot) (Snapshot, error) {
	exists, err := s.exists(ctx, record.Key())
	if err != nil {
		return Snapshot{}, err
	}
	if exists {
		return Snapshot{}, ErrSnapshotExists
	}

	record.Version = 1
	record.UpdatedAt = time.Now().UTC()

	meta, err := encodeMeta(record.Meta)
	if err != nil {
		return Snapshot{}, err
	}
	annotations, err := encodeAnnotations(record.Annotations)
	if err != nil {
		return Snapshot{}, err
	}

	_, err = s.db.ExecContext(ctx, insertSnapshotQuery,
		record.Kind, record.ID, record.Version, string(record.State), meta, annotations, record.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to insert snapshot %s: %w", record.Key(), err)
	}

	return record, nil
}

// Upsert inserts the record or replaces an existing one without a version
// check. The stored version is incremented on replace.
func (s *SQLSnapshotStore) Upsert(ctx context.Context, record Snapshot) (Snapshot, error) {
	current, getErr := s.Get(ctx, record.Key())
	if getErr != nil && !errors.Is(getErr, ErrSnapshotNotFound) {
		return Snapshot{}, getErr
	}

	meta, err := encodeMeta(record.Meta)
	if err != nil {
		return Snapshot{}, err
	}
	annotations, err := encodeAnnotations(record.Annotations)
	if err != nil {
		return Snapshot{}, err
	}

	record.UpdatedAt = time.Now().UTC()

	if errors.Is(getErr, ErrSnapshotNotFound) {
		record.Version = 1
		_, err = s.db.ExecContext(ctx, insertSnapshotQuery,
			record.Kind, record.ID, record.Version, string(record.State), meta, annotations, record.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to insert snapshot %s: %w", record.Key(), err)
		}

		return record, nil
	}

	record.Version = current.Version + 1
	_, err = s.db.ExecContext(ctx, updateSnapshotQuery,
		record.Version, string(record.State), meta, annotations, record.UpdatedAt.UnixNano(), record.Kind, record.ID,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to update snapshot %s: %w", record.Key(), err)
	}

	return record, nil
}

// Update replaces an existing record. The supplied record's version must
// match the stored version or ErrVersionConflict is returned; on success
// the stored version is incremented.
func (s *SQLSnapshotStore) Update(ctx context.Context, record Snapshot) (Snapshot, error) {
	meta, err := encodeMeta(record.Meta)
	if err != nil {
		return Snapshot{}, err
	}
	annotations, err := encodeAnnotations(record.Annotations)
	if err != nil {
		return Snapshot{}, err
	}

	next := record
	next.Version = record.Version + 1
	next.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, updateSnapshotVersionQuery,
		next.Version, string(next.State), meta, annotations, next.UpdatedAt.UnixNano(), next.Kind, next.ID, record.Version,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to update snapshot %s: %w", record.Key(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read affected rows for snapshot %s: %w", record.Key(), err)
	}
	if affected == 0 {
		exists, err := s.exists(ctx, record.Key())
		if err != nil {
			return Snapshot{}, err
		}
		if exists {
			return Snapshot{}, ErrVersionConflict
		}

		return Snapshot{}, ErrSnapshotNotFound
	}

	return next, nil
}

// Delete removes the record with the supplied key, returning
// ErrSnapshotNotFound if no such record exists.
func (s *SQLSnapshotStore) Delete(ctx context.Context, key SnapshotKey) error {
	result, err := s.db.ExecContext(ctx, deleteSnapshotQuery, key.Kind(), key.ID())
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for snapshot %s: %w", key, err)
	}
	if affected == 0 {
		return ErrSnapshotNotFound
	}

	return nil
}

func (s *SQLSnapshotStore) exists(ctx context.Context, key SnapshotKey) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// decodeSnapshot rebuilds a Snapshot from its column values.
func decodeSnapshot(kind, id string, version int64, state, meta string, annotations sql.NullString, updatedAt int64) (Snapshot, error) {
	record := Snapshot{
		Kind:      kind,
		ID:        id,
		Version:   version,
		State:     json.RawMessage(state),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}

	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &record.Meta); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode meta for %s/%s: %w", kind, id, err)
		}
	}

	if annotations.Valid {
		decoder := json.NewDecoder(strings.NewReader(annotations.String))
		decoder.UseNumber()

		var value any
		if err := decoder.Decode(&value); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode annotations for %s/%s: %w", kind, id, err)
		}
		record.Annotations = value
	}

	return record, nil
}

// encodeMeta serializes the lifecycle flags to a JSON column value.
func encodeMeta(meta Meta) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}

	return string(raw), nil
}

// encodeAnnotations serializes annotations to a nullable JSON column
// value.
func encodeAnnotations(annotations any) (sql.NullString, error) {
	if annotations == nil {
		return sql.NullString{}, nil
	}

	raw, err := json.Marshal(annotations)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode annotations: %w", err)
	}

	return sql.NullString{String: string(raw), Valid: true}, nil
}
