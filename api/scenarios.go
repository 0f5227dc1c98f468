/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	censuses for testing and demos. Each scenario creates a census, its
	header catalogue, the serviceable zips for its region, and members that
	demonstrate specific features.

AVAILABLE SCENARIOS:

	small-group:       Three valid households, all inside the service area
	out-of-area:       New enrollment where 3 of 5 employees live out of area
	validation-errors: Over-age child and incomplete records block saving
	renewal:           Renewal with an effective date already in the past

HOW SCENARIOS WORK:
 1. Reset database (clear all data, close sessions)
 2. Create census metadata and default headers
 3. Register serviceable zips for the region
 4. Save members through the member service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "out-of-area"}

	POST /api/censuses/{census_id}/session

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Session handlers
  - factory/headers.go: Default header catalogue
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/factory"
	"github.com/warp/census-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-group",
		Name:        "Small Group",
		Description: "Three valid households (employee only, spouse, family) inside the service area",
	},
	{
		ID:          "out-of-area",
		Name:        "Out of Area",
		Description: "New enrollment where 3 of 5 employees live outside the service area",
	},
	{
		ID:          "validation-errors",
		Name:        "Validation Errors",
		Description: "Over-age child and incomplete records that block saving",
	},
	{
		ID:          "renewal",
		Name:        "Renewal",
		Description: "Renewal census with an effective date in the past; out-of-area rule not applied",
	},
}

const (
	scenarioRegion   = "CA"
	scenarioCensusID = "demo-census"
)

var scenarioZips = []string{"94107", "94110", "94103", "94016"}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.sessions = make(map[string]*openSession)
	h.currentScenario = ""
	h.mu.Unlock()

	var err error
	switch req.ScenarioID {
	case "small-group":
		err = h.loadSmallGroupScenario(ctx)
	case "out-of-area":
		err = h.loadOutOfAreaScenario(ctx)
	case "validation-errors":
		err = h.loadValidationErrorsScenario(ctx)
	case "renewal":
		err = h.loadRenewalScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"census_id": scenarioCensusID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSmallGroupScenario(ctx context.Context) error {
	members := []census.Member{
		demoEmployee("emp-001", "Alice", "Johnson", "1985-03-14", "94107"),
		demoEmployee("emp-002", "Bob", "Smith", "1979-11-02", "94110"),
		demoDependent("dep-001", "emp-002", census.RelationshipSpouse, "Carol", "Smith", "1981-06-20"),
		demoEmployee("emp-003", "Dana", "Lee", "1990-01-30", "94103"),
		demoDependent("dep-002", "emp-003", census.RelationshipDomesticPartner, "Eli", "Park", "1989-08-08"),
		demoDependent("dep-003", "emp-003", census.RelationshipChild, "Finn", "Lee", "2018-04-12"),
	}
	return h.seedScenario(ctx, "Small Group", nextJanuary(), true, members)
}

func (h *Handler) loadOutOfAreaScenario(ctx context.Context) error {
	members := []census.Member{
		demoEmployee("emp-001", "Alice", "Johnson", "1985-03-14", "94107"),
		demoEmployee("emp-002", "Bob", "Smith", "1979-11-02", "94110"),
		demoEmployee("emp-003", "Dana", "Lee", "1990-01-30", "10001"),
		demoEmployee("emp-004", "Gus", "Rivera", "1972-09-09", "60601"),
		demoEmployee("emp-005", "Hana", "Mori", "1995-12-24", "98101"),
	}
	return h.seedScenario(ctx, "Out of Area", nextJanuary(), true, members)
}

func (h *Handler) loadValidationErrorsScenario(ctx context.Context) error {
	effective := nextJanuary()
	// 26 on the effective date
	overAge := effective.Time().AddDate(-26, 0, -1).Format("2006-01-02")

	incomplete := demoEmployee("emp-002", "", "Smith", "1979-11-02", "94110")
	members := []census.Member{
		demoEmployee("emp-001", "Alice", "Johnson", "1985-03-14", "94107"),
		demoDependent("dep-001", "emp-001", census.RelationshipChild, "Ivy", "Johnson", overAge),
		incomplete,
		demoDependent("dep-002", "emp-002", census.RelationshipChild, "Jay", "Smith", ""),
	}
	return h.seedScenario(ctx, "Validation Errors", effective, true, members)
}

func (h *Handler) loadRenewalScenario(ctx context.Context) error {
	effective := census.NewDate(time.Now().Year(), time.January, 1)
	members := []census.Member{
		demoEmployee("emp-001", "Alice", "Johnson", "1985-03-14", "94107"),
		demoEmployee("emp-002", "Bob", "Smith", "1979-11-02", "10001"),
		demoEmployee("emp-003", "Dana", "Lee", "1990-01-30", "60601"),
	}
	return h.seedScenario(ctx, "Renewal", effective, false, members)
}

func (h *Handler) seedScenario(ctx context.Context, name string, effective census.Date, newEnrollment bool, members []census.Member) error {
	rec := sqlite.CensusRecord{
		ID:            scenarioCensusID,
		Name:          name,
		Region:        scenarioRegion,
		EffectiveDate: effective,
		NewEnrollment: newEnrollment,
	}
	if err := h.Store.SaveCensus(ctx, rec); err != nil {
		return err
	}
	if err := h.Store.AddServiceArea(ctx, scenarioRegion, scenarioZips...); err != nil {
		return err
	}

	headers := factory.WithSystemHeaders(factory.DefaultHeaders())
	res, err := h.Store.SaveMembers(ctx, rec.ID, headers, members)
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("scenario member %s rejected: %s", res.Errors[0].Identifier, res.Errors[0].Error)
	}
	return nil
}

func nextJanuary() census.Date {
	return census.NewDate(time.Now().Year()+1, time.January, 1)
}

func demoEmployee(id, first, last, birth, zip string) census.Member {
	m := census.Member{
		Identifier:   id,
		Relationship: census.RelationshipEmployee,
		FirstName:    first,
		LastName:     last,
		PostalCode:   zip,
	}
	m.BirthDate, _ = census.ParseDate(birth)
	m.Derive()
	return m
}

func demoDependent(id, primary string, rel census.Relationship, first, last, birth string) census.Member {
	m := census.Member{
		Identifier:        id,
		PrimaryIdentifier: primary,
		Relationship:      rel,
		FirstName:         first,
		LastName:          last,
	}
	m.BirthDate, _ = census.ParseDate(birth)
	m.Derive()
	return m
}
