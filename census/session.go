/*
session.go - Stateful census workflow

PURPOSE:
  A Session owns one census while it is being edited: the working member
  list, the last persisted snapshot, the derived household view, the
  service-area cache and the pagination/selection state. It is the surface
  the API layer drives.

STATE FLOW:
  Load ──► working census + persisted snapshot
  Edit (OnUpdate / AddEmployee / OnNewDependent / Import)
       ──► new census snapshot ──► rebuild hierarchy, service area, page
  Save ──► validate all ──► Diff ──► delete ──► save ──► reload ──► merge

ORDERING:
  - Remote operations (load, save, delete, import) are serialized by opMu.
  - Deletes complete before saves.
  - After every save or delete the census is reloaded and merged before the
    call returns.
  - Service-area lookups run in the background and apply their result to
    the census as it is when they finish.

ERRORS:
  A failed remote call returns *RemoteError and leaves the census as it was
  before the call. Validation failures return *CensusValidationError and
  never reach the member service.

SEE ALSO:
  - reconcile.go: Diff and merge
  - servicearea.go: Zip cache and OOA ratio
  - importer.go: Bulk import
*/
package census

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/census-engine/metrics"
)

// DefaultPageSize is the number of households per page.
const DefaultPageSize = 10

// Remote operation names used in RemoteError, logs and metrics.
const (
	OpLoadMembers       = "loadMembers"
	OpSaveMembers       = "saveMembers"
	OpDeleteMembers     = "deleteMembers"
	OpLookupServiceArea = "lookupServiceArea"
)

// Config identifies the census and the workflow mode.
type Config struct {
	CensusID      string
	Fieldset      string
	Region        string
	EffectiveDate Date
	NewEnrollment bool
	PageSize      int
	UploadLimit   int
	PlanHeader    string
}

// =============================================================================
// EVENTS
// =============================================================================

type EventKind string

const (
	EventLoaded      EventKind = "loaded"
	EventChanged     EventKind = "changed"
	EventImported    EventKind = "imported"
	EventSaved       EventKind = "saved"
	EventDeleted     EventKind = "deleted"
	EventServiceArea EventKind = "serviceArea"
	EventError       EventKind = "error"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	Kind    EventKind
	Summary Summary
	Valid   bool
	Err     error
}

// =============================================================================
// SESSION
// =============================================================================

type Session struct {
	cfg       Config
	validator Validator
	members   MemberService
	lookup    ServiceAreaLookup
	area      *ServiceArea
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	opMu sync.Mutex

	mu        sync.RWMutex
	loaded    bool
	headers   []Header
	census    Census
	persisted Census
	view      Hierarchy
	areaRes   AreaResult
	page      int
	selected  string
	sortKey   SortKey

	lmu       sync.Mutex
	listeners []func(Event)

	// lookups tracks background service-area lookups. Add happens under mu
	// and only while closed is false.
	lookups sync.WaitGroup
	closed  bool
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

func WithServiceAreaLookup(l ServiceAreaLookup) Option { return func(s *Session) { s.lookup = l } }

// WithServiceArea shares a zip cache between sessions of the same region.
func WithServiceArea(a *ServiceArea) Option { return func(s *Session) { s.area = a } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// NewSession validates the configuration. The census is empty until Load.
func NewSession(cfg Config, members MemberService, opts ...Option) (*Session, error) {
	if cfg.CensusID == "" {
		return nil, ErrMissingCensusID
	}
	if cfg.EffectiveDate.IsZero() {
		return nil, ErrMissingEffectiveDate
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	s := &Session{
		cfg:       cfg,
		validator: Validator{EffectiveDate: cfg.EffectiveDate, NewEnrollment: cfg.NewEnrollment},
		members:   members,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.area == nil {
		s.area = NewServiceArea()
	}
	s.rebuildLocked(nil)
	return s, nil
}

func (s *Session) Config() Config { return s.cfg }

// Subscribe registers a listener. Listeners run synchronously after the
// state lock is released and must not block.
func (s *Session) Subscribe(fn func(Event)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) emit(kind EventKind, err error) {
	s.mu.RLock()
	ev := Event{Kind: kind, Summary: s.view.Summary, Valid: s.validLocked(), Err: err}
	s.mu.RUnlock()

	s.lmu.Lock()
	listeners := slices.Clone(s.listeners)
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// rebuildLocked replaces the working census and recomputes every derived
// view. Member errors are carried over untouched. Caller holds mu.
func (s *Session) rebuildLocked(c Census) {
	c, s.areaRes = s.area.Apply(c, s.cfg.NewEnrollment)
	s.census = c
	s.view = BuildHierarchy(c)

	if s.selected != "" {
		if _, ok := s.view.Household(s.selected); !ok {
			s.selected = ""
		}
	}
	if last := s.pageCountLocked() - 1; s.page > last {
		s.page = last
	}
	if s.page < 0 {
		s.page = 0
	}
	ratio, _ := s.areaRes.Ratio.Float64()
	s.metrics.SetOutOfAreaRatio(s.cfg.CensusID, ratio)
}

func (s *Session) remoteErr(op string, start time.Time, err error) error {
	s.metrics.ObserveRemote(op, start, err)
	if err == nil {
		return nil
	}
	s.log.Error("remote call failed", "op", op, "census_id", s.cfg.CensusID, "error", err)
	return &RemoteError{Op: op, Err: err}
}

func (s *Session) load(ctx context.Context) (LoadResult, error) {
	start := time.Now()
	res, err := s.members.LoadMembers(ctx, s.cfg.CensusID, s.cfg.Fieldset)
	if err := s.remoteErr(OpLoadMembers, start, err); err != nil {
		return LoadResult{}, err
	}
	for i := range res.Members {
		res.Members[i] = loaded(res.Members[i])
	}
	return res, nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load replaces the census with the member service's current state.
func (s *Session) Load(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	res, err := s.load(ctx)
	if err != nil {
		s.emit(EventError, err)
		return err
	}

	s.mu.Lock()
	s.headers = res.Headers
	s.persisted = Census(res.Members).Clone()
	validated, failures := s.validator.ValidateAll(res.Members)
	s.rebuildLocked(validated)
	s.loaded = true
	s.mu.Unlock()

	s.log.Info("census loaded",
		"census_id", s.cfg.CensusID,
		"members", len(res.Members),
		"invalid", len(failures))
	s.emit(EventLoaded, nil)
	s.RefreshServiceArea(context.WithoutCancel(ctx))
	return nil
}

// =============================================================================
// STRUCTURAL CHANGES
// =============================================================================

// AddEmployee appends an empty primary member and moves to the last page.
func (s *Session) AddEmployee() Member {
	id := uuid.NewString()
	m := Member{
		Identifier:        id,
		PrimaryIdentifier: id,
		IsPrimary:         true,
		Relationship:      RelationshipEmployee,
		Edited:            true,
	}

	s.mu.Lock()
	c := append(s.census.Clone(), m)
	s.rebuildLocked(c)
	s.page = s.pageCountLocked() - 1
	s.mu.Unlock()

	s.emit(EventChanged, nil)
	return m
}

// OnNewDependent appends an empty dependent owned by the given employee.
func (s *Session) OnNewDependent(employeeID string) (Member, error) {
	s.mu.Lock()
	owner, ok := s.census.Find(employeeID)
	if !ok {
		s.mu.Unlock()
		return Member{}, ErrMemberNotFound
	}
	if !owner.IsPrimary {
		s.mu.Unlock()
		return Member{}, ErrNotPrimary
	}
	m := Member{
		Identifier:        uuid.NewString(),
		PrimaryIdentifier: owner.Identifier,
		Edited:            true,
	}
	s.rebuildLocked(append(s.census.Clone(), m))
	s.mu.Unlock()

	s.emit(EventChanged, nil)
	return m, nil
}

// OnUpdate replaces a member's editable fields, re-derives its flags and
// revalidates it. The stored PersistedID always wins over the caller's.
func (s *Session) OnUpdate(m Member) (Member, error) {
	s.mu.Lock()
	i := s.census.Index(m.Identifier)
	if i < 0 {
		s.mu.Unlock()
		return Member{}, ErrMemberNotFound
	}
	prev := s.census[i]

	updated := m.Clone()
	updated.PersistedID = prev.PersistedID
	updated.IsPrimary = prev.IsPrimary
	updated.IsSpouseOrPartner = prev.IsSpouseOrPartner
	updated.Derive()
	if updated.BirthDate.IsZero() && !prev.BirthDate.IsZero() {
		updated.DeclaredAge = nil
	}
	updated.Edited = true
	updated = s.validator.Apply(updated)

	c := s.census.Clone()
	c[i] = updated
	s.rebuildLocked(c)
	updated = s.census[i]
	s.mu.Unlock()

	s.emit(EventChanged, nil)
	s.RefreshServiceArea(context.Background())
	return updated, nil
}

// OnSelect toggles the selected household. Returns the new selection state.
func (s *Session) OnSelect(employeeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.view.Household(employeeID); !ok {
		return false, ErrMemberNotFound
	}
	if s.selected == employeeID {
		s.selected = ""
		return false, nil
	}
	s.selected = employeeID
	return true, nil
}

// OnDelete removes a member; deleting a primary removes its dependents too.
func (s *Session) OnDelete(ctx context.Context, identifier string) error {
	s.mu.RLock()
	ids := ExpandWithDependents(s.census, []string{identifier})
	s.mu.RUnlock()
	if len(ids) == 0 {
		return ErrMemberNotFound
	}
	return s.deleteMembers(ctx, ids)
}

// DeleteAll removes every member.
func (s *Session) DeleteAll(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.census))
	for _, m := range s.census {
		ids = append(ids, m.Identifier)
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}
	return s.deleteMembers(ctx, ids)
}

func (s *Session) deleteMembers(ctx context.Context, ids []string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	pids := PersistedIDs(s.census, ids)
	headers := s.headers
	s.mu.RUnlock()

	if len(pids) == 0 {
		s.mu.Lock()
		s.rebuildLocked(RemoveIdentifiers(s.census, ids))
		s.mu.Unlock()
		s.emit(EventDeleted, nil)
		return nil
	}

	start := time.Now()
	err := s.members.DeleteMembers(ctx, s.cfg.CensusID, headers, pids)
	if err := s.remoteErr(OpDeleteMembers, start, err); err != nil {
		s.emit(EventError, err)
		return err
	}

	res, loadErr := s.load(ctx)

	s.mu.Lock()
	if loadErr != nil {
		s.persisted = PrunePersisted(s.persisted, pids)
		s.rebuildLocked(RemoveIdentifiers(s.census, ids))
	} else {
		s.persisted = Census(res.Members).Clone()
		s.rebuildLocked(RemoveIdentifiers(MergeLoaded(s.census, res.Members), ids))
	}
	s.mu.Unlock()

	s.log.Info("members deleted", "census_id", s.cfg.CensusID, "members", len(ids), "persisted", len(pids))
	if loadErr != nil {
		s.emit(EventError, loadErr)
		return loadErr
	}
	s.emit(EventDeleted, nil)
	return nil
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportResult describes a completed import.
type ImportResult struct {
	Members    int
	Saved      bool
	Save       SaveResult
	Validation *CensusValidationError
}

// Import replaces the census with the normalized rows and saves it,
// deleting every previously persisted member. A census that fails
// validation is kept locally, unsaved, with per-record errors attached.
func (s *Session) Import(ctx context.Context, rows []Row) (ImportResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	n := Normalizer{Headers: s.headers, PlanHeader: s.cfg.PlanHeader, RowLimit: s.cfg.UploadLimit}
	s.mu.RUnlock()

	imported, err := n.Normalize(rows)
	if err != nil {
		s.log.Warn("import rejected", "census_id", s.cfg.CensusID, "rows", len(rows), "error", err)
		s.emit(EventError, err)
		return ImportResult{}, err
	}
	s.metrics.AddImportedRows(len(rows))

	s.mu.Lock()
	validated, _ := s.validator.ValidateAll(imported)
	s.rebuildLocked(validated)
	s.page = 0
	s.selected = ""
	s.mu.Unlock()

	s.log.Info("census imported", "census_id", s.cfg.CensusID, "members", len(imported))
	s.emit(EventImported, nil)

	out := ImportResult{Members: len(imported)}
	res, err := s.saveLocked(ctx)
	var invalid *CensusValidationError
	switch {
	case errors.As(err, &invalid):
		out.Validation = invalid
		return out, nil
	case err != nil:
		return out, err
	}
	out.Saved = true
	out.Save = res
	return out, nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save validates every record and, if all pass, persists the pending
// change-set: deletes first, then upserts, then reloads and merges.
func (s *Session) Save(ctx context.Context) (SaveResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Session) saveLocked(ctx context.Context) (SaveResult, error) {
	s.mu.Lock()
	validated, failures := s.validator.ValidateAll(s.census)
	s.rebuildLocked(validated)
	check := s.validator.CheckCensus(s.census, s.view)
	cs := Diff(s.persisted, s.census)
	headers := s.headers
	s.mu.Unlock()

	if check != nil {
		s.metrics.AddValidationFailures(len(failures))
		s.log.Info("save blocked by validation",
			"census_id", s.cfg.CensusID,
			"failures", len(check.Failures),
			"orphans", len(check.Orphans),
			"no_employees", check.NoEmployees)
		s.emit(EventChanged, check)
		return SaveResult{}, check
	}
	if cs.IsEmpty() {
		return SaveResult{}, nil
	}

	if len(cs.ToDelete) > 0 {
		start := time.Now()
		err := s.members.DeleteMembers(ctx, s.cfg.CensusID, headers, cs.ToDelete)
		if err := s.remoteErr(OpDeleteMembers, start, err); err != nil {
			s.emit(EventError, err)
			return SaveResult{}, err
		}
	}

	var res SaveResult
	if len(cs.ToUpsert) > 0 {
		start := time.Now()
		var err error
		res, err = s.members.SaveMembers(ctx, s.cfg.CensusID, headers, cs.ToUpsert)
		if err := s.remoteErr(OpSaveMembers, start, err); err != nil {
			s.prunePersisted(cs.ToDelete)
			s.emit(EventError, err)
			return SaveResult{}, err
		}
	}

	fetched, err := s.load(ctx)
	if err != nil {
		s.prunePersisted(cs.ToDelete)
		s.emit(EventError, err)
		return res, err
	}

	s.mu.Lock()
	if len(fetched.Headers) > 0 {
		s.headers = fetched.Headers
	}
	s.persisted = Census(fetched.Members).Clone()
	merged := MergeLoaded(s.census, fetched.Members)
	s.rebuildLocked(ApplySaveErrors(merged, res.Errors))
	s.mu.Unlock()

	s.metrics.AddSaved(len(cs.ToUpsert) - len(res.Errors))
	s.log.Info("census saved",
		"census_id", s.cfg.CensusID,
		"deleted", len(cs.ToDelete),
		"upserted", len(cs.ToUpsert),
		"server_errors", len(res.Errors))
	s.emit(EventSaved, nil)
	return res, nil
}

func (s *Session) prunePersisted(deleted []string) {
	if len(deleted) == 0 {
		return
	}
	s.mu.Lock()
	s.persisted = PrunePersisted(s.persisted, deleted)
	s.mu.Unlock()
}

// =============================================================================
// SERVICE AREA
// =============================================================================

// RefreshServiceArea looks up the census zips that have never been checked.
// The lookup runs in the background; the returned channel yields its
// outcome and may be ignored. New edits do not cancel it.
func (s *Session) RefreshServiceArea(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if s.lookup == nil {
		close(done)
		return done
	}

	s.mu.Lock()
	zips := s.area.Unchecked(s.census)
	if s.closed || len(zips) == 0 {
		s.mu.Unlock()
		close(done)
		return done
	}
	s.lookups.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.lookups.Done()
		defer close(done)

		start := time.Now()
		serviceable, err := s.lookup.LookupServiceArea(ctx, ZipRequests(zips, s.cfg.Region))
		if err := s.remoteErr(OpLookupServiceArea, start, err); err != nil {
			s.emit(EventError, err)
			done <- err
			return
		}
		s.area.Add(zips, serviceable)

		s.mu.Lock()
		s.rebuildLocked(s.census)
		s.mu.Unlock()

		s.log.Debug("service area refreshed",
			"census_id", s.cfg.CensusID,
			"requested", len(zips),
			"serviceable", len(serviceable))
		s.emit(EventServiceArea, nil)
		done <- nil
	}()
	return done
}

// Wait blocks until background service-area lookups have finished.
func (s *Session) Wait() { s.lookups.Wait() }

// Close stops new service-area lookups from starting and waits for the
// running ones. The session stays readable.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.lookups.Wait()
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Session) Headers() []Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Header(nil), s.headers...)
}

// Census returns a copy of the working census.
func (s *Session) Census() Census {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.census.Clone()
}

func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Summary
}

func (s *Session) Hierarchy() Hierarchy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// IsCensusValid reports whether the census has employees, no orphans, no
// failing record and, in new enrollment, an acceptable out-of-area ratio.
func (s *Session) IsCensusValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	return s.areaRes.RuleSatisfied && s.validator.CheckCensus(s.census, s.view) == nil
}

// IsOutOfAreaRuleSatisfied is always true outside new enrollment.
func (s *Session) IsOutOfAreaRuleSatisfied() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areaRes.RuleSatisfied
}

func (s *Session) OutOfAreaRatio() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areaRes.Ratio
}

// OutOfAreaMembers lists primaries outside the service area without a
// physical-presence override.
func (s *Session) OutOfAreaMembers() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return OutOfAreaPrimaries(s.census)
}

// CanProceed gates moving past the census step. It follows IsCensusValid.
func (s *Session) CanProceed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

// EffectiveDateInPast reports whether the effective date is today or earlier.
func (s *Session) EffectiveDateInPast() bool {
	return EffectiveDateInPast(s.cfg.EffectiveDate, DateOf(s.now().UTC()))
}

// PendingChanges returns what the next Save would send.
func (s *Session) PendingChanges() ChangeSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Diff(s.persisted, s.census)
}

// =============================================================================
// PAGINATION
// =============================================================================

func (s *Session) SetSort(key SortKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortKey = key
}

func (s *Session) pageCountLocked() int {
	n := len(s.view.Households)
	if n == 0 {
		return 1
	}
	return (n + s.cfg.PageSize - 1) / s.cfg.PageSize
}

// PageCount is at least one, even for an empty census.
func (s *Session) PageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageCountLocked()
}

// CurrentPage returns the zero-based current page index.
func (s *Session) CurrentPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// SetPage moves to page i, clamped to the valid range.
func (s *Session) SetPage(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := s.pageCountLocked() - 1; i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	s.page = i
	return s.page
}

// Page returns the households on page index for the given page size,
// in the current sort order. A size of zero uses the configured size.
func (s *Session) Page(index, size int) []Household {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if size <= 0 {
		size = s.cfg.PageSize
	}
	hs := SortHouseholds(s.view.Households, s.sortKey)
	start := index * size
	if index < 0 || start >= len(hs) {
		return []Household{}
	}
	end := start + size
	if end > len(hs) {
		end = len(hs)
	}
	return hs[start:end]
}

// Selected returns the selected employee identifier, or "".
func (s *Session) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}
