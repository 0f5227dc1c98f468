/*
handlers.go - HTTP API handlers for the census engine

PURPOSE:
  Exposes the census engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to census.Session for the editing
  workflow and to the SQLite store for plain data access.

ENDPOINTS:
  Censuses:
    GET    /api/censuses                       List censuses
    POST   /api/censuses                       Create census (metadata + headers)
    GET    /api/censuses/{id}                  Get census
    DELETE /api/censuses/{id}                  Delete census and members
    GET    /api/censuses/{id}/members          Stored members (member service view)

  Session (one editing session per census):
    POST   /api/censuses/{id}/session          Open session and load
    GET    /api/censuses/{id}/session          Current state and page
    DELETE /api/censuses/{id}/session          Close session
    POST   .../session/employees               Add employee
    POST   .../session/employees/{mid}/dependents  Add dependent
    POST   .../session/employees/{mid}/select  Toggle household selection
    PUT    .../session/members/{mid}           Update member
    DELETE .../session/members/{mid}           Delete member (and dependents)
    DELETE .../session/members                 Delete all members
    POST   .../session/import                  Import mapped rows
    POST   .../session/save                    Save pending changes
    GET    .../session/changes                 Preview pending changes
    GET    .../session/out-of-area             Out-of-area primaries
    PUT    .../session/page                    Move page / set sort

  Service area:
    POST   /api/service-area                   Register serviceable zips
    POST   /api/service-area/lookup            Lookup (servicearea.Client wire format)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, row limit exceeded
  - 404: Census, session or member not found
  - 409: No open session
  - 422: Census failed validation (nothing was saved)
  - 502: Member service or service-area lookup failed
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/factory"
	"github.com/warp/census-engine/metrics"
	"github.com/warp/census-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tune session creation.
type Options struct {
	PageSize    int
	UploadLimit int
	PlanHeader  string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Headers *factory.HeaderFactory
	// Lookup serves session service-area checks. Defaults to the store.
	Lookup   census.ServiceAreaLookup
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Options  Options

	validate *validator.Validate

	mu       sync.Mutex
	sessions map[string]*openSession

	// Track currently loaded scenario
	currentScenario string
}

type openSession struct {
	session  *census.Session
	lastUsed time.Time
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, opts Options) *Handler {
	reg := prometheus.NewRegistry()
	return &Handler{
		Store:    store,
		Headers:  factory.NewHeaderFactory(),
		Lookup:   store,
		Registry: reg,
		Metrics:  metrics.New(reg),
		Log:      slog.Default(),
		Options:  opts,
		validate: validator.New(),
		sessions: make(map[string]*openSession),
	}
}

// =============================================================================
// CENSUS HANDLERS
// =============================================================================

// ListCensuses returns all censuses.
func (h *Handler) ListCensuses(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListCensuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list censuses", err)
		return
	}

	dtos := make([]CensusDTO, len(records))
	for i, c := range records {
		dtos[i] = toCensusDTO(c, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCensus creates or replaces census metadata and its headers.
func (h *Handler) CreateCensus(w http.ResponseWriter, r *http.Request) {
	var req CreateCensusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	effective, ok := census.ParseDate(req.EffectiveDate)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid effective_date format (use YYYY-MM-DD)", nil)
		return
	}

	headers := factory.DefaultHeaders()
	if len(req.Headers) > 0 {
		var err error
		headers, err = h.Headers.FromJSON(req.Headers)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid headers", err)
			return
		}
	}
	headers = factory.WithSystemHeaders(headers)

	rec := sqlite.CensusRecord{
		ID:            req.ID,
		Name:          req.Name,
		Region:        req.Region,
		EffectiveDate: effective,
		NewEnrollment: req.NewEnrollment,
	}
	if err := h.Store.SaveCensus(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create census", err)
		return
	}
	if err := h.Store.SaveHeaders(r.Context(), rec.ID, headers); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save headers", err)
		return
	}
	h.closeSession(rec.ID)

	h.Log.Info("census created", "census_id", rec.ID, "headers", len(headers))
	writeJSON(w, http.StatusCreated, toCensusDTO(rec, h.Headers.ToJSON(headers)))
}

// GetCensus returns a census with its headers.
func (h *Handler) GetCensus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetCensus(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get census", err)
		return
	}
	loaded, err := h.Store.LoadMembers(r.Context(), id, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load headers", err)
		return
	}
	writeJSON(w, http.StatusOK, toCensusDTO(*rec, h.Headers.ToJSON(loaded.Headers)))
}

// DeleteCensus removes a census and closes its session.
func (h *Handler) DeleteCensus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Store.DeleteCensus(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete census", err)
		return
	}
	h.closeSession(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListMembers returns the stored members, bypassing any open session.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	loaded, err := h.Store.LoadMembers(r.Context(), id, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load members", err)
		return
	}
	writeJSON(w, http.StatusOK, loaded.Members)
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// OpenSession creates a session for the census and loads it. An existing
// session is replaced.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetCensus(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to open session", err)
		return
	}

	s, err := census.NewSession(census.Config{
		CensusID:      rec.ID,
		Region:        rec.Region,
		EffectiveDate: rec.EffectiveDate,
		NewEnrollment: rec.NewEnrollment,
		PageSize:      h.Options.PageSize,
		UploadLimit:   h.Options.UploadLimit,
		PlanHeader:    h.Options.PlanHeader,
	}, h.Store,
		census.WithServiceAreaLookup(h.Lookup),
		census.WithLogger(h.Log.With("census_id", rec.ID)),
		census.WithMetrics(h.Metrics),
	)
	if err != nil {
		writeDomainError(w, "Failed to open session", err)
		return
	}
	if err := s.Load(r.Context()); err != nil {
		writeDomainError(w, "Failed to load census", err)
		return
	}

	h.mu.Lock()
	h.sessions[id] = &openSession{session: s, lastUsed: time.Now()}
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

// GetSession returns the session state. Optional ?page= moves first.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if p := r.URL.Query().Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid page", err)
			return
		}
		s.SetPage(page)
	}
	if sort := r.URL.Query().Get("sort"); sort != "" {
		s.SetSort(census.ParseSortKey(sort))
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// CloseSession discards a session and its unsaved edits.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.closeSession(id) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*census.Session, bool) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	entry, ok := h.sessions[id]
	if ok {
		entry.lastUsed = time.Now()
	}
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusConflict, "No open session for census "+id, census.ErrNotLoaded)
		return nil, false
	}
	return entry.session, true
}

func (h *Handler) closeSession(id string) bool {
	h.mu.Lock()
	entry, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		entry.session.Close()
	}
	return ok
}

// closeIdle drops sessions unused since cutoff. Returns how many were closed.
func (h *Handler) closeIdle(cutoff time.Time) int {
	h.mu.Lock()
	var idle []*openSession
	for id, entry := range h.sessions {
		if entry.lastUsed.Before(cutoff) {
			idle = append(idle, entry)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, entry := range idle {
		entry.session.Close()
	}
	return len(idle)
}

// =============================================================================
// SESSION EDITS
// =============================================================================

// AddEmployee appends an empty employee.
func (h *Handler) AddEmployee(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, s.AddEmployee())
}

// AddDependent appends an empty dependent to an employee.
func (h *Handler) AddDependent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	m, err := s.OnNewDependent(chi.URLParam(r, "mid"))
	if err != nil {
		writeDomainError(w, "Failed to add dependent", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// SelectHousehold toggles the selected household.
func (h *Handler) SelectHousehold(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	selected, err := s.OnSelect(chi.URLParam(r, "mid"))
	if err != nil {
		writeDomainError(w, "Failed to select household", err)
		return
	}
	writeJSON(w, http.StatusOK, SelectResponse{Selected: selected})
}

// UpdateMember replaces a member's editable fields.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req UpdateMemberRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	mid := chi.URLParam(r, "mid")
	current, found := s.Census().Find(mid)
	if !found {
		writeError(w, http.StatusNotFound, "Member not found", census.ErrMemberNotFound)
		return
	}

	m := current.Clone()
	m.Relationship = census.NormalizeRelationship(req.Relationship)
	m.FirstName = strings.TrimSpace(req.FirstName)
	m.LastName = strings.TrimSpace(req.LastName)
	m.PostalCode = strings.TrimSpace(req.PostalCode)
	m.BirthDate = census.Date{}
	if req.BirthDate != "" {
		m.BirthDate, _ = census.ParseDate(req.BirthDate)
	}
	m.DeclaredAge = req.DeclaredAge
	m.PhysicalPresence = req.PhysicalPresence
	m.PlanIDs = req.PlanIDs
	if req.Extra != nil {
		m.Extra = req.Extra
	}

	updated, err := s.OnUpdate(m)
	if err != nil {
		writeDomainError(w, "Failed to update member", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteMember removes a member; an employee takes its dependents along.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.OnDelete(r.Context(), chi.URLParam(r, "mid")); err != nil {
		writeDomainError(w, "Failed to delete member", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// DeleteAllMembers empties the census.
func (h *Handler) DeleteAllMembers(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DeleteAll(r.Context()); err != nil {
		writeDomainError(w, "Failed to delete members", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// SetPage moves to a page and optionally changes the sort order.
func (h *Handler) SetPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetPageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Sort != "" {
		s.SetSort(census.ParseSortKey(req.Sort))
	}
	s.SetPage(req.Page)
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// =============================================================================
// IMPORT / SAVE
// =============================================================================

// ImportRows replaces the census with mapped spreadsheet rows and saves it.
func (h *Handler) ImportRows(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ImportRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rows := make([]census.Row, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = census.Row{Fields: census.Record(row.Fields)}
		for _, p := range row.Plans {
			rows[i].Plans = append(rows[i].Plans, census.PlanSelection{Header: p.Header, Value: p.Value})
		}
	}

	res, err := s.Import(r.Context(), rows)
	if err != nil {
		writeDomainError(w, "Failed to import census", err)
		return
	}

	resp := ImportResponse{
		Members:       res.Members,
		Saved:         res.Saved,
		Errors:        res.Save.Errors,
		AddPlanErrors: res.Save.AddPlanErrors,
		Session:       toSessionDTO(s),
	}
	status := http.StatusOK
	if res.Validation != nil {
		resp.Validation = toValidationDTO(res.Validation)
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// Save persists pending changes.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	res, err := s.Save(r.Context())
	var invalid *census.CensusValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			ErrorResponse
			Validation *ValidationDTO `json:"validation"`
			Session    SessionDTO     `json:"session"`
		}{
			ErrorResponse: ErrorResponse{Error: "Census is not valid", Details: invalid.Error()},
			Validation:    toValidationDTO(invalid),
			Session:       toSessionDTO(s),
		})
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to save census", err)
		return
	}

	writeJSON(w, http.StatusOK, SaveResponse{
		Errors:        res.Errors,
		AddPlanErrors: res.AddPlanErrors,
		Session:       toSessionDTO(s),
	})
}

// PendingChanges previews what the next save would send.
func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	cs := s.PendingChanges()
	dto := ChangeSetDTO{ToDelete: cs.ToDelete, ToUpsert: cs.ToUpsert}
	if dto.ToDelete == nil {
		dto.ToDelete = []string{}
	}
	if dto.ToUpsert == nil {
		dto.ToUpsert = []census.Member{}
	}
	writeJSON(w, http.StatusOK, dto)
}

// OutOfAreaMembers lists primaries outside the service area.
func (h *Handler) OutOfAreaMembers(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out := s.OutOfAreaMembers()
	if out == nil {
		out = []census.Member{}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// SERVICE AREA
// =============================================================================

// AddServiceArea registers serviceable zips for a region.
func (h *Handler) AddServiceArea(w http.ResponseWriter, r *http.Request) {
	var req ServiceAreaRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.Store.AddServiceArea(r.Context(), req.Region, req.Zips...); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save service area", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// LookupServiceArea answers the remote lookup protocol from the store, so
// one deployment can act as another's service-area endpoint.
func (h *Handler) LookupServiceArea(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	requests := make([]census.ZipRequest, len(req.Params))
	regions := make(map[string]string, len(req.Params))
	for i, p := range req.Params {
		requests[i] = census.ZipRequest{PostalCode: p.Zipcode, Region: p.Region}
		regions[strings.TrimSpace(p.Zipcode)] = p.Region
	}

	zips, err := h.Store.LookupServiceArea(r.Context(), requests)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up service area", err)
		return
	}

	resp := LookupResponse{Result: make([]ZipParamDTO, len(zips))}
	for i, z := range zips {
		resp.Result[i] = ZipParamDTO{Zipcode: z, Region: regions[z]}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.sessions = make(map[string]*openSession)
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(strings.Join(fields, "; ")))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps census errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var remote *census.RemoteError
	switch {
	case census.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, census.ErrCensusInvalid):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case census.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.As(err, &remote):
		writeError(w, http.StatusBadGateway, message, errors.New(remote.Message()))
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func toCensusDTO(c sqlite.CensusRecord, headers []factory.HeaderJSON) CensusDTO {
	dto := CensusDTO{
		ID:            c.ID,
		Name:          c.Name,
		Region:        c.Region,
		EffectiveDate: c.EffectiveDate.String(),
		NewEnrollment: c.NewEnrollment,
		Headers:       headers,
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toSessionDTO(s *census.Session) SessionDTO {
	page := s.CurrentPage()
	households := s.Page(page, 0)
	dto := SessionDTO{
		CensusID:            s.Config().CensusID,
		Loaded:              s.Loaded(),
		Summary:             s.Summary(),
		Valid:               s.IsCensusValid(),
		OutOfAreaRatio:      s.OutOfAreaRatio().StringFixed(2),
		OutOfAreaSatisfied:  s.IsOutOfAreaRuleSatisfied(),
		CanProceed:          s.CanProceed(),
		EffectiveDateInPast: s.EffectiveDateInPast(),
		Page:                page,
		PageCount:           s.PageCount(),
		Selected:            s.Selected(),
		Households:          make([]HouseholdDTO, len(households)),
	}
	for i, hh := range households {
		deps := hh.Dependents
		if deps == nil {
			deps = []census.Member{}
		}
		dto.Households[i] = HouseholdDTO{
			Index:       hh.Index,
			Employee:    hh.Employee,
			Dependents:  deps,
			Composition: string(hh.Composition),
			HasError:    hh.HasError(),
		}
	}
	return dto
}

func toValidationDTO(e *census.CensusValidationError) *ValidationDTO {
	return &ValidationDTO{
		Failures:    e.Failures,
		NoEmployees: e.NoEmployees,
		Orphans:     e.Orphans,
	}
}
