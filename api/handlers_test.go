/*
handlers_test.go - HTTP tests for the census API

Tests for:
- Census creation and header catalogue
- Session lifecycle (open, edit, save, close)
- Error mapping (400 / 404 / 409 / 422)
- Service-area registration and the lookup protocol
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(store, Options{PageSize: 2, UploadLimit: 100})
}

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T, h *Handler) *testServer {
	return &testServer{t: t, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createCensus(t *testing.T, s *testServer, id string, newEnrollment bool) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/censuses", CreateCensusRequest{
		ID:            id,
		Name:          "Acme",
		Region:        "CA",
		EffectiveDate: "2030-01-01",
		NewEnrollment: newEnrollment,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateCensus_DefaultHeaders(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))

	// WHEN: creating a census without headers
	createCensus(t, s, "c1", true)

	// THEN: the preset catalogue with system headers is stored
	rec := s.do(http.MethodGet, "/api/censuses/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[CensusDTO](t, rec)
	assert.Equal(t, "2030-01-01", got.EffectiveDate)
	require.NotEmpty(t, got.Headers)
	assert.Equal(t, census.KeyPrimaryIdentifier, got.Headers[0].Name)

	list := decode[[]CensusDTO](t, s.do(http.MethodGet, "/api/censuses", nil))
	assert.Len(t, list, 1)
}

func TestCreateCensus_ValidationFailure(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))

	tests := []struct {
		name string
		body any
	}{
		{"missing id", CreateCensusRequest{EffectiveDate: "2030-01-01"}},
		{"bad date", CreateCensusRequest{ID: "c1", EffectiveDate: "01/01/2030"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/censuses", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "Validation failed", resp.Error)
		})
	}
}

func TestGetCensus_NotFound(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))

	rec := s.do(http.MethodGet, "/api/censuses/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_RequiresOpen(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", false)

	rec := s.do(http.MethodPost, "/api/censuses/c1/session/employees", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, census.ErrNotLoaded.Error(), resp.Details)
}

func TestSession_EditAndSave(t *testing.T) {
	h := setupTestHandler(t)
	s := newTestServer(t, h)
	createCensus(t, s, "c1", false)

	// GIVEN: an open session
	rec := s.do(http.MethodPost, "/api/censuses/c1/session", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[SessionDTO](t, rec).Loaded)

	// WHEN: adding an employee with a spouse and filling both in
	emp := decode[census.Member](t, s.do(http.MethodPost, "/api/censuses/c1/session/employees", nil))
	rec = s.do(http.MethodPut, "/api/censuses/c1/session/members/"+emp.Identifier, UpdateMemberRequest{
		Relationship: "employee",
		FirstName:    "Pat",
		LastName:     "Doe",
		PostalCode:   "94107",
		BirthDate:    "1980-04-02",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/censuses/c1/session/employees/"+emp.Identifier+"/dependents", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	dep := decode[census.Member](t, rec)
	rec = s.do(http.MethodPut, "/api/censuses/c1/session/members/"+dep.Identifier, UpdateMemberRequest{
		Relationship: "Spouse",
		FirstName:    "Sam",
		LastName:     "Doe",
		BirthDate:    "1982-07-19",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	changes := decode[ChangeSetDTO](t, s.do(http.MethodGet, "/api/censuses/c1/session/changes", nil))
	assert.Len(t, changes.ToUpsert, 2)

	// THEN: saving persists both and the session reflects the household
	rec = s.do(http.MethodPost, "/api/censuses/c1/session/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[SaveResponse](t, rec)
	assert.Empty(t, saved.Errors)
	assert.True(t, saved.Session.Valid)
	assert.Equal(t, 1, saved.Session.Summary.EmployeeSpouse)
	require.Len(t, saved.Session.Households, 1)
	assert.NotEmpty(t, saved.Session.Households[0].Employee.PersistedID)

	stored := decode[[]census.Member](t, s.do(http.MethodGet, "/api/censuses/c1/members", nil))
	assert.Len(t, stored, 2)

	changes = decode[ChangeSetDTO](t, s.do(http.MethodGet, "/api/censuses/c1/session/changes", nil))
	assert.Empty(t, changes.ToUpsert)
	assert.Empty(t, changes.ToDelete)
}

func TestSession_SaveBlockedByValidation(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", true)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	// GIVEN: an employee without any details
	s.do(http.MethodPost, "/api/censuses/c1/session/employees", nil)

	// WHEN: saving
	rec := s.do(http.MethodPost, "/api/censuses/c1/session/save", nil)

	// THEN: 422 with the failing member and nothing stored
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Error      string        `json:"error"`
		Validation ValidationDTO `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Validation.Failures, 1)
	assert.Equal(t, census.MsgDOBAndRelationshipRequired, resp.Validation.Failures[0].Error)

	stored := decode[[]census.Member](t, s.do(http.MethodGet, "/api/censuses/c1/members", nil))
	assert.Empty(t, stored)
}

func TestSession_Import(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	// GIVEN: a spouse listed before its employee
	req := ImportRequest{Rows: []ImportRowDTO{
		{Fields: map[string]string{
			census.KeyRelationship: "Spouse",
			census.KeyFirstName:    "Sam",
			census.KeyLastName:     "Doe",
			census.KeyBirthDate:    "1982-07-19",
		}},
		{
			Fields: map[string]string{
				census.KeyRelationship: "Employee",
				census.KeyFirstName:    "Pat",
				census.KeyLastName:     "Doe",
				census.KeyBirthDate:    "1980-04-02",
				census.KeyPostalCode:   "94107",
			},
			Plans: []PlanSelectionDTO{{Header: "Medical", Value: "Gold PPO"}},
		},
	}}

	// WHEN: importing
	rec := s.do(http.MethodPost, "/api/censuses/c1/session/import", req)

	// THEN: the spouse is bound to the employee and the census is saved
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ImportResponse](t, rec)
	assert.True(t, resp.Saved)
	assert.Equal(t, 2, resp.Members)
	assert.Equal(t, 1, resp.Session.Summary.EmployeeSpouse)

	stored := decode[[]census.Member](t, s.do(http.MethodGet, "/api/censuses/c1/members", nil))
	require.Len(t, stored, 2)
	for _, m := range stored {
		if m.IsPrimary {
			assert.Equal(t, []string{"med-gold-ppo"}, m.PlanIDs)
		}
	}
}

func TestSession_ImportRowLimit(t *testing.T) {
	h := setupTestHandler(t)
	h.Options.UploadLimit = 1
	s := newTestServer(t, h)
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	rec := s.do(http.MethodPost, "/api/censuses/c1/session/import", ImportRequest{Rows: []ImportRowDTO{
		{Fields: map[string]string{census.KeyRelationship: "Employee"}},
		{Fields: map[string]string{census.KeyRelationship: "Employee"}},
	}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "File exceeds maximum row count 1 for upload.", resp.Details)
}

func TestSession_UnknownMember(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	rec := s.do(http.MethodPut, "/api/censuses/c1/session/members/nope", UpdateMemberRequest{FirstName: "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/censuses/c1/session/employees/nope/dependents", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_SelectAndPage(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	var first census.Member
	for i := 0; i < 3; i++ {
		m := decode[census.Member](t, s.do(http.MethodPost, "/api/censuses/c1/session/employees", nil))
		if i == 0 {
			first = m
		}
	}

	// WHEN: toggling selection twice
	sel := decode[SelectResponse](t, s.do(http.MethodPost, "/api/censuses/c1/session/employees/"+first.Identifier+"/select", nil))
	assert.True(t, sel.Selected)
	sel = decode[SelectResponse](t, s.do(http.MethodPost, "/api/censuses/c1/session/employees/"+first.Identifier+"/select", nil))
	assert.False(t, sel.Selected)

	// THEN: three households over a page size of two give two pages; the
	// requested page is clamped
	state := decode[SessionDTO](t, s.do(http.MethodPut, "/api/censuses/c1/session/page", SetPageRequest{Page: 9}))
	assert.Equal(t, 2, state.PageCount)
	assert.Equal(t, 1, state.Page)
	assert.Len(t, state.Households, 1)

	rec := s.do(http.MethodPut, "/api/censuses/c1/session/page", SetPageRequest{Page: 0, Sort: "age"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSession_DeleteMember(t *testing.T) {
	h := setupTestHandler(t)
	s := newTestServer(t, h)
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	emp := decode[census.Member](t, s.do(http.MethodPost, "/api/censuses/c1/session/employees", nil))
	s.do(http.MethodPost, "/api/censuses/c1/session/employees/"+emp.Identifier+"/dependents", nil)

	// WHEN: deleting the employee
	rec := s.do(http.MethodDelete, "/api/censuses/c1/session/members/"+emp.Identifier, nil)

	// THEN: its dependent goes too
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[SessionDTO](t, rec)
	assert.Equal(t, 0, state.Summary.Total)
}

func TestSession_Close(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/censuses/c1/session", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/censuses/c1/session", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodGet, "/api/censuses/c1/session", nil).Code)
}

func TestServiceArea_RegisterAndLookup(t *testing.T) {
	s := newTestServer(t, setupTestHandler(t))

	// GIVEN: serviceable zips in CA
	rec := s.do(http.MethodPost, "/api/service-area", ServiceAreaRequest{Region: "CA", Zips: []string{"94107", "94110"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: looking up through the remote protocol
	rec = s.do(http.MethodPost, "/api/service-area/lookup", LookupRequest{Params: []ZipParamDTO{
		{Zipcode: "94107", Region: "CA"},
		{Zipcode: "10001", Region: "CA"},
	}})

	// THEN: only the serviceable zip is returned
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LookupResponse](t, rec)
	assert.Equal(t, []ZipParamDTO{{Zipcode: "94107", Region: "CA"}}, resp.Result)

	rec = s.do(http.MethodPost, "/api/service-area", ServiceAreaRequest{Region: "CA"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupTestHandler(t)
	s := newTestServer(t, h)
	createCensus(t, s, "c1", false)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/censuses/c1/session", nil).Code)

	rec := s.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "census_remote_calls_total")
}
