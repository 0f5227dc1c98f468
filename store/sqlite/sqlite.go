/*
Package sqlite provides a SQLite-backed member service and service-area lookup.

PURPOSE:
  Persists censuses, their field headers and members, and the serviceable
  postal codes per region. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  census.MemberService:     Load / save / delete members
  census.ServiceAreaLookup: Serviceable postal codes

PERSISTED IDS:
  The store owns persisted_id. A member saved for the first time gets a new
  UUID; later saves of the same identifier keep it. Callers only learn it
  from a load.

KEY TABLES:
  censuses:          Census metadata (region, effective date, workflow)
  census_headers:    Field catalogue per census, in display order
  census_members:    One row per member, unique by (census_id, identifier)
  service_area_zips: Serviceable postal codes per region

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/census.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  session, err := census.NewSession(cfg, store, census.WithServiceAreaLookup(store))

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - census/service.go: Interface definitions
  - census/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/census-engine/census"
)

// Store implements census persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Census metadata
	CREATE TABLE IF NOT EXISTS censuses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		effective_date TEXT NOT NULL DEFAULT '',
		new_enrollment BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Field catalogue
	CREATE TABLE IF NOT EXISTS census_headers (
		census_id TEXT NOT NULL REFERENCES censuses(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'TEXT',
		required BOOLEAN DEFAULT FALSE,
		options_json TEXT,
		PRIMARY KEY (census_id, name)
	);

	-- Members
	CREATE TABLE IF NOT EXISTS census_members (
		persisted_id TEXT PRIMARY KEY,
		census_id TEXT NOT NULL REFERENCES censuses(id) ON DELETE CASCADE,
		identifier TEXT NOT NULL,
		primary_identifier TEXT NOT NULL DEFAULT '',
		relationship TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		birth_date TEXT NOT NULL DEFAULT '',
		declared_age INTEGER,
		physical_presence BOOLEAN DEFAULT FALSE,
		plan_ids TEXT NOT NULL DEFAULT '',
		extra_json TEXT,
		position INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(census_id, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_census_members_census_position
		ON census_members(census_id, position);
	CREATE INDEX IF NOT EXISTS idx_census_members_primary
		ON census_members(census_id, primary_identifier);

	-- Serviceable postal codes
	CREATE TABLE IF NOT EXISTS service_area_zips (
		region TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (region, postal_code)
	);

	CREATE INDEX IF NOT EXISTS idx_service_area_zips_postal_code
		ON service_area_zips(postal_code);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx executes fn within a database transaction. Caller holds mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CENSUS METADATA
// =============================================================================

// CensusRecord is a stored census.
type CensusRecord struct {
	ID            string
	Name          string
	Region        string
	EffectiveDate census.Date
	NewEnrollment bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SaveCensus creates or updates census metadata.
func (s *Store) SaveCensus(ctx context.Context, c CensusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO censuses (id, name, region, effective_date, new_enrollment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			effective_date = excluded.effective_date,
			new_enrollment = excluded.new_enrollment,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Region, c.EffectiveDate.String(), c.NewEnrollment, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save census: %w", err)
	}
	return nil
}

// GetCensus returns census.ErrCensusNotFound for unknown ids.
func (s *Store) GetCensus(ctx context.Context, id string) (*CensusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, region, effective_date, new_enrollment, created_at, updated_at FROM censuses WHERE id = ?",
		id,
	)
	c, err := scanCensus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, census.ErrCensusNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCensuses returns all censuses, newest first.
func (s *Store) ListCensuses(ctx context.Context) ([]CensusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, region, effective_date, new_enrollment, created_at, updated_at FROM censuses ORDER BY created_at DESC, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CensusRecord
	for rows.Next() {
		c, err := scanCensus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCensus removes a census with its headers and members.
func (s *Store) DeleteCensus(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM censuses WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return census.ErrCensusNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCensus(row scanner) (CensusRecord, error) {
	var c CensusRecord
	var effective, createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Name, &c.Region, &effective, &c.NewEnrollment, &createdAt, &updatedAt); err != nil {
		return CensusRecord{}, err
	}
	c.EffectiveDate, _ = census.ParseDate(effective)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return c, nil
}

// ensureCensus creates a bare census row so members can reference it.
func ensureCensus(ctx context.Context, db execer, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO censuses (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, id, now, now,
	)
	return err
}

// =============================================================================
// HEADERS
// =============================================================================

func loadHeaders(ctx context.Context, db execer, censusID string) ([]census.Header, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name, label, type, required, options_json FROM census_headers WHERE census_id = ? ORDER BY position",
		censusID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load headers: %w", err)
	}
	defer rows.Close()

	headers := []census.Header{}
	for rows.Next() {
		var h census.Header
		var typ string
		var options sql.NullString
		if err := rows.Scan(&h.Name, &h.Label, &typ, &h.Required, &options); err != nil {
			return nil, err
		}
		h.Type = census.HeaderType(typ)
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &h.Options); err != nil {
				return nil, fmt.Errorf("invalid options for header %s: %w", h.Name, err)
			}
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// replaceHeaders swaps the whole field catalogue of a census.
func replaceHeaders(ctx context.Context, db execer, censusID string, headers []census.Header) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM census_headers WHERE census_id = ?", censusID); err != nil {
		return fmt.Errorf("failed to clear headers: %w", err)
	}
	for i, h := range headers {
		var options sql.NullString
		if len(h.Options) > 0 {
			b, _ := json.Marshal(h.Options)
			options = sql.NullString{String: string(b), Valid: true}
		}
		_, err := db.ExecContext(ctx,
			"INSERT INTO census_headers (census_id, position, name, label, type, required, options_json) VALUES (?, ?, ?, ?, ?, ?, ?)",
			censusID, i, h.Name, h.Label, string(h.Type), h.Required, options,
		)
		if err != nil {
			return fmt.Errorf("failed to save header %s: %w", h.Name, err)
		}
	}
	return nil
}

// SaveHeaders replaces the field catalogue of a census.
func (s *Store) SaveHeaders(ctx context.Context, censusID string, headers []census.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCensus(ctx, tx, censusID); err != nil {
			return err
		}
		return replaceHeaders(ctx, tx, censusID, headers)
	})
}

// =============================================================================
// MEMBER SERVICE (census.MemberService interface)
// =============================================================================

const memberColumns = `persisted_id, identifier, primary_identifier, relationship,
	first_name, last_name, postal_code, birth_date, declared_age,
	physical_presence, plan_ids, extra_json`

// LoadMembers returns headers and members in insertion order. Unknown
// censuses load as empty.
func (s *Store) LoadMembers(ctx context.Context, censusID, _ string) (census.LoadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	headers, err := loadHeaders(ctx, s.db, censusID)
	if err != nil {
		return census.LoadResult{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM census_members WHERE census_id = ? ORDER BY position",
		censusID,
	)
	if err != nil {
		return census.LoadResult{}, fmt.Errorf("failed to load members: %w", err)
	}
	defer rows.Close()

	members := []census.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return census.LoadResult{}, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return census.LoadResult{}, err
	}
	return census.LoadResult{Headers: headers, Members: members}, nil
}

func scanMember(row scanner) (census.Member, error) {
	var m census.Member
	var relationship, birthDate, planIDs string
	var age sql.NullInt64
	var extra sql.NullString
	err := row.Scan(
		&m.PersistedID, &m.Identifier, &m.PrimaryIdentifier, &relationship,
		&m.FirstName, &m.LastName, &m.PostalCode, &birthDate, &age,
		&m.PhysicalPresence, &planIDs, &extra,
	)
	if err != nil {
		return census.Member{}, fmt.Errorf("failed to scan member: %w", err)
	}
	m.Relationship = census.Relationship(relationship)
	m.BirthDate, _ = census.ParseDate(birthDate)
	if age.Valid {
		n := int(age.Int64)
		m.DeclaredAge = &n
	}
	m.PlanIDs = census.SplitPlans(planIDs)
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &m.Extra); err != nil {
			return census.Member{}, fmt.Errorf("invalid extra fields for member %s: %w", m.Identifier, err)
		}
	}
	m.Derive()
	return m, nil
}

// SaveMembers upserts members by identifier in one transaction. A
// dependent whose primary is neither stored nor in the batch is reported
// in SaveResult.Errors and skipped; the rest of the batch is saved.
func (s *Store) SaveMembers(ctx context.Context, censusID string, headers []census.Header, members []census.Member) (census.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res census.SaveResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureCensus(ctx, tx, censusID); err != nil {
			return fmt.Errorf("failed to create census: %w", err)
		}
		if len(headers) > 0 {
			if err := replaceHeaders(ctx, tx, censusID, headers); err != nil {
				return err
			}
		}

		primaries, err := storedPrimaries(ctx, tx, censusID)
		if err != nil {
			return err
		}
		for _, m := range members {
			m.Derive()
			if m.IsPrimary {
				primaries[m.Identifier] = true
			}
		}

		for _, m := range members {
			m.Derive()
			if !m.IsPrimary && !primaries[m.PrimaryIdentifier] {
				res.Errors = append(res.Errors, census.MemberError{
					Identifier: m.Identifier,
					Error:      census.MsgPrimaryNotFound,
				})
				continue
			}
			if err := upsertMember(ctx, tx, censusID, m); err != nil {
				return err
			}
		}

		catalogue, err := loadHeaders(ctx, tx, censusID)
		if err != nil {
			return err
		}
		res.AddPlanErrors = census.UnknownPlans(catalogue, "", members)
		return nil
	})
	if err != nil {
		return census.SaveResult{}, err
	}
	return res, nil
}

func storedPrimaries(ctx context.Context, db execer, censusID string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT identifier FROM census_members WHERE census_id = ? AND relationship = ?",
		censusID, string(census.RelationshipEmployee),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load primaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func upsertMember(ctx context.Context, db execer, censusID string, m census.Member) error {
	persistedID := m.PersistedID
	if persistedID == "" {
		persistedID = uuid.NewString()
	}
	var age sql.NullInt64
	if m.DeclaredAge != nil {
		age = sql.NullInt64{Int64: int64(*m.DeclaredAge), Valid: true}
	}
	var extra sql.NullString
	if len(m.Extra) > 0 {
		b, _ := json.Marshal(m.Extra)
		extra = sql.NullString{String: string(b), Valid: true}
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO census_members
		(persisted_id, census_id, identifier, primary_identifier, relationship,
		 first_name, last_name, postal_code, birth_date, declared_age,
		 physical_presence, plan_ids, extra_json, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(position) FROM census_members WHERE census_id = ?), -1) + 1,
			?, ?)
		ON CONFLICT(census_id, identifier) DO UPDATE SET
			primary_identifier = excluded.primary_identifier,
			relationship = excluded.relationship,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			postal_code = excluded.postal_code,
			birth_date = excluded.birth_date,
			declared_age = excluded.declared_age,
			physical_presence = excluded.physical_presence,
			plan_ids = excluded.plan_ids,
			extra_json = excluded.extra_json,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		persistedID, censusID, m.Identifier, m.PrimaryIdentifier, string(m.Relationship),
		m.FirstName, m.LastName, m.PostalCode, m.BirthDate.String(), age,
		m.PhysicalPresence, strings.Join(m.PlanIDs, census.PlanSeparator), extra,
		censusID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save member %s: %w", m.Identifier, err)
	}
	return nil
}

// DeleteMembers removes members by persisted id. Unknown ids are ignored.
func (s *Store) DeleteMembers(ctx context.Context, censusID string, _ []census.Header, persistedIDs []string) error {
	if len(persistedIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range persistedIDs {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM census_members WHERE census_id = ? AND persisted_id = ?",
				censusID, id,
			)
			if err != nil {
				return fmt.Errorf("failed to delete member %s: %w", id, err)
			}
		}
		return nil
	})
}

// =============================================================================
// SERVICE AREA (census.ServiceAreaLookup interface)
// =============================================================================

// AddServiceArea marks zips as serviceable in a region.
func (s *Store) AddServiceArea(ctx context.Context, region string, zips ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, z := range zips {
			_, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO service_area_zips (region, postal_code, created_at) VALUES (?, ?, ?)",
				region, strings.TrimSpace(z), now,
			)
			if err != nil {
				return fmt.Errorf("failed to save zip %s: %w", z, err)
			}
		}
		return nil
	})
}

// LookupServiceArea returns the requested zips serviceable in their
// region. An empty region matches any region.
func (s *Store) LookupServiceArea(ctx context.Context, requests []census.ZipRequest) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	seen := make(map[string]bool)
	for _, r := range requests {
		zip := strings.TrimSpace(r.PostalCode)
		if zip == "" || seen[zip] {
			continue
		}
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM service_area_zips WHERE postal_code = ? AND (? = '' OR region = ?)",
			zip, r.Region, r.Region,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to look up zip %s: %w", zip, err)
		}
		if n > 0 {
			seen[zip] = true
			out = append(out, zip)
		}
	}
	return out, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"census_members", "census_headers", "censuses", "service_area_zips"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ census.MemberService     = (*Store)(nil)
	_ census.ServiceAreaLookup = (*Store)(nil)
)
