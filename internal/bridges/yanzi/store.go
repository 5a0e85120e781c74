package yanzi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/database"
)

// Store persists the source catalogue and the last sample per source in
// SQLite, so a restarted bridge can serve entities before Cirrus answers.
type Store struct {
	db *database.DB
}

// StoredSample is the last sample recorded for a key.
type StoredSample struct {
	Key        string
	Sample     json.RawMessage
	SampleTime time.Time // zero when the sample carries no sampleTime
	ReceivedAt time.Time
	Count      int64
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// UpsertSources replaces the catalogue of locationID with sources.
// Rows of that location whose key is no longer listed are removed.
// Source samples are recorded too, without bumping their count.
func (s *Store) UpsertSources(ctx context.Context, locationID string, sources []Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	now := time.Now().UTC().Format(time.RFC3339)
	keep := make(map[string]bool, len(sources))

	for _, src := range sources {
		keep[src.Key] = true

		_, err := tx.ExecContext(ctx, `
			INSERT INTO yanzi_sources (
				key, location_id, server_did, did, variable, si_unit,
				unit_type_fixed, device_key, device_did, device_name,
				product_type, version, life_cycle_state, kind,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				location_id = excluded.location_id,
				server_did = excluded.server_did,
				did = excluded.did,
				variable = excluded.variable,
				si_unit = excluded.si_unit,
				unit_type_fixed = excluded.unit_type_fixed,
				device_key = excluded.device_key,
				device_did = excluded.device_did,
				device_name = excluded.device_name,
				product_type = excluded.product_type,
				version = excluded.version,
				life_cycle_state = excluded.life_cycle_state,
				kind = excluded.kind,
				updated_at = excluded.updated_at`,
			src.Key, locationID, src.ServerDID, src.DID, src.Variable, src.SIUnit,
			src.UnitTypeFixed, src.DeviceKey, src.DeviceDID, src.DeviceName,
			src.ProductType, src.Version, src.LifeCycleState, string(KindOf(src.Variable)),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("upserting source %s: %w", src.Key, err)
		}

		if src.HasSample() {
			if err := saveSample(ctx, tx, src.Key, src.Latest, time.Now(), false); err != nil {
				return err
			}
		}
	}

	stale, err := locationKeys(ctx, tx, locationID)
	if err != nil {
		return err
	}
	for _, key := range stale {
		if keep[key] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM yanzi_sources WHERE key = ?`, key); err != nil {
			return fmt.Errorf("removing source %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sources: %w", err)
	}
	return nil
}

func locationKeys(ctx context.Context, tx *sql.Tx, locationID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM yanzi_sources WHERE location_id = ?`, locationID)
	if err != nil {
		return nil, fmt.Errorf("listing source keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning source key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// LoadSources returns the stored catalogue of locationID with the last
// stored sample of each source.
func (s *Store) LoadSources(ctx context.Context, locationID string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT src.key, src.location_id, src.server_did, src.did, src.variable,
			src.si_unit, src.unit_type_fixed, src.device_key, src.device_did,
			src.device_name, src.product_type, src.version, src.life_cycle_state,
			smp.sample
		FROM yanzi_sources src
		LEFT JOIN yanzi_samples smp ON smp.key = src.key
		WHERE src.location_id = ?
		ORDER BY src.key`, locationID)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var (
			src    Source
			sample sql.NullString
		)
		if err := rows.Scan(
			&src.Key, &src.LocationID, &src.ServerDID, &src.DID, &src.Variable,
			&src.SIUnit, &src.UnitTypeFixed, &src.DeviceKey, &src.DeviceDID,
			&src.DeviceName, &src.ProductType, &src.Version, &src.LifeCycleState,
			&sample,
		); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		if sample.Valid {
			src.Latest = json.RawMessage(sample.String)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

// SaveSample records a pushed sample for key.
func (s *Store) SaveSample(ctx context.Context, key string, sample json.RawMessage, receivedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := saveSample(ctx, tx, key, sample, receivedAt, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sample: %w", err)
	}
	return nil
}

func saveSample(ctx context.Context, tx *sql.Tx, key string, sample json.RawMessage, receivedAt time.Time, count bool) error {
	var sampleTime sql.NullInt64
	var body struct {
		SampleTime *int64 `json:"sampleTime"`
	}
	if err := json.Unmarshal(sample, &body); err == nil && body.SampleTime != nil {
		sampleTime = sql.NullInt64{Int64: *body.SampleTime, Valid: true}
	}

	increment := 0
	if count {
		increment = 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO yanzi_samples (key, sample, sample_time, received_at, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			sample = excluded.sample,
			sample_time = excluded.sample_time,
			received_at = excluded.received_at,
			count = yanzi_samples.count + ?`,
		key, string(sample), sampleTime, receivedAt.UTC().Format(time.RFC3339Nano), increment, increment,
	)
	if err != nil {
		return fmt.Errorf("saving sample %s: %w", key, err)
	}
	return nil
}

// Sample returns the last sample stored for key, or ErrUnknownSource.
func (s *Store) Sample(ctx context.Context, key string) (StoredSample, error) {
	var (
		out        StoredSample
		sample     string
		sampleTime sql.NullInt64
		receivedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, sample, sample_time, received_at, count
		FROM yanzi_samples WHERE key = ?`, key,
	).Scan(&out.Key, &sample, &sampleTime, &receivedAt, &out.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredSample{}, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	if err != nil {
		return StoredSample{}, fmt.Errorf("querying sample: %w", err)
	}

	out.Sample = json.RawMessage(sample)
	if sampleTime.Valid {
		out.SampleTime = time.UnixMilli(sampleTime.Int64)
	}
	if t, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
		out.ReceivedAt = t
	}
	return out, nil
}
