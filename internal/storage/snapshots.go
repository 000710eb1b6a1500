// Package storage persists the last settled snapshot of each domain so the
// CLI and bridge API can show a "last known" view without a session.
// Session tokens are never written here.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"octopus/internal/cache"
	"octopus/internal/core"
	applog "octopus/internal/log"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no snapshot or export exists for the key.
var ErrNotFound = errors.New("not found")

// Record is a stored snapshot.
type Record struct {
	Domain     core.Domain
	Generation uint64
	Payload    json.RawMessage
	CapturedAt time.Time
}

// Decode unmarshals the payload into out.
func (r Record) Decode(out any) error {
	if err := json.Unmarshal(r.Payload, out); err != nil {
		return fmt.Errorf("decode %s snapshot: %w", r.Domain, err)
	}
	return nil
}

// Export is a recorded spreadsheet export.
type Export struct {
	ID         int64
	Period     string
	SheetsRef  string
	ExportedAt time.Time
}

type SnapshotStore struct {
	db *sql.DB
	// epoch identifies this open store. Generations restart in every
	// process, so they are only compared between saves of the same epoch.
	epoch  string
	cache  cache.Cache[string, Record]
	logger *applog.Logger
	now    func() time.Time
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithCache places a read-through cache in front of Load.
func WithCache(c cache.Cache[string, Record]) Option {
	return func(s *SnapshotStore) { s.cache = c }
}

// WithLogger sets the store logger.
func WithLogger(l *applog.Logger) Option {
	return func(s *SnapshotStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSnapshotStore(dbPath string, opts ...Option) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SnapshotStore{
		db:     db,
		epoch:  uuid.NewString(),
		logger: applog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save upserts the snapshot for domain. A write carrying an older
// generation than one this store saved earlier is ignored; a row written by
// another process or an earlier run is always replaced.
func (s *SnapshotStore) Save(ctx context.Context, domain core.Domain, generation uint64, payload any) error {
	if !domain.IsValid() {
		return fmt.Errorf("save snapshot: unknown domain %q", domain)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", domain, err)
	}
	capturedAt := s.now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (domain, generation, epoch, payload, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			generation = excluded.generation,
			epoch = excluded.epoch,
			payload = excluded.payload,
			captured_at = excluded.captured_at
		WHERE excluded.epoch <> snapshots.epoch
			OR excluded.generation >= snapshots.generation`,
		string(domain), int64(generation), s.epoch, string(raw), capturedAt)
	if err != nil {
		return fmt.Errorf("save %s snapshot: %w", domain, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.DebugContext(ctx, "Ignored stale snapshot",
			applog.FieldDomain, domain, applog.FieldGeneration, generation)
		return nil
	}

	if s.cache != nil {
		s.cache.Set(string(domain), Record{
			Domain:     domain,
			Generation: generation,
			Payload:    raw,
			CapturedAt: capturedAt,
		})
	}
	s.logger.DebugContext(ctx, "Snapshot saved",
		applog.FieldDomain, domain, applog.FieldGeneration, generation, "bytes", len(raw))
	return nil
}

// Load returns the stored snapshot for domain, or ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context, domain core.Domain) (Record, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(string(domain)); ok {
			return rec, nil
		}
	}

	var (
		rec        = Record{Domain: domain}
		generation int64
		payload    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, payload, captured_at FROM snapshots WHERE domain = ?`,
		string(domain)).Scan(&generation, &payload, &rec.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s snapshot: %w", domain, err)
	}
	rec.Generation = uint64(generation)
	rec.Payload = json.RawMessage(payload)

	if s.cache != nil {
		s.cache.Set(string(domain), rec)
	}
	return rec, nil
}

// Clear removes every stored snapshot.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.InfoContext(ctx, "Snapshots cleared")
	return nil
}

// RecordExport stores a successful spreadsheet export for period (YYYY-MM).
func (s *SnapshotStore) RecordExport(ctx context.Context, period, ref string) (Export, error) {
	exp := Export{Period: period, SheetsRef: ref, ExportedAt: s.now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (period, sheets_ref, exported_at) VALUES (?, ?, ?)`,
		period, ref, exp.ExportedAt)
	if err != nil {
		return Export{}, fmt.Errorf("record export: %w", err)
	}
	if exp.ID, err = res.LastInsertId(); err != nil {
		return Export{}, fmt.Errorf("record export id: %w", err)
	}
	s.logger.InfoContext(ctx, "Export recorded", "period", period, applog.FieldSheetsRef, ref)
	return exp, nil
}

// LastExport returns the latest export for period, or ErrNotFound.
func (s *SnapshotStore) LastExport(ctx context.Context, period string) (Export, error) {
	var exp Export
	err := s.db.QueryRowContext(ctx, `
		SELECT id, period, sheets_ref, exported_at FROM exports
		WHERE period = ? ORDER BY id DESC LIMIT 1`, period).
		Scan(&exp.ID, &exp.Period, &exp.SheetsRef, &exp.ExportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Export{}, ErrNotFound
	}
	if err != nil {
		return Export{}, fmt.Errorf("last export: %w", err)
	}
	return exp, nil
}
