/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Census:
    CensusDTO, CreateCensusRequest

  Session:
    SessionDTO, HouseholdDTO, UpdateMemberRequest, ImportRequest,
    ImportResponse, SaveResponse, ChangeSetDTO, SetPageRequest

  Service area:
    ServiceAreaRequest, LookupRequest, LookupResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags and are checked by
  decodeAndValidate before any handler logic runs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/headers.go: HeaderJSON type
*/
package api

import (
	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/factory"
)

// =============================================================================
// CENSUS
// =============================================================================

// CensusDTO represents a census in API responses.
type CensusDTO struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Region        string               `json:"region"`
	EffectiveDate string               `json:"effective_date"`
	NewEnrollment bool                 `json:"new_enrollment"`
	Headers       []factory.HeaderJSON `json:"headers,omitempty"`
	CreatedAt     string               `json:"created_at,omitempty"`
}

// CreateCensusRequest creates or replaces census metadata. Headers default
// to the preset catalogue.
type CreateCensusRequest struct {
	ID            string               `json:"id" validate:"required,max=64"`
	Name          string               `json:"name" validate:"max=200"`
	Region        string               `json:"region" validate:"max=32"`
	EffectiveDate string               `json:"effective_date" validate:"required,datetime=2006-01-02"`
	NewEnrollment bool                 `json:"new_enrollment"`
	Headers       []factory.HeaderJSON `json:"headers" validate:"omitempty,dive"`
}

// =============================================================================
// SESSION
// =============================================================================

// SessionDTO is the session state shown to the editor.
type SessionDTO struct {
	CensusID            string         `json:"census_id"`
	Loaded              bool           `json:"loaded"`
	Summary             census.Summary `json:"summary"`
	Valid               bool           `json:"valid"`
	OutOfAreaRatio      string         `json:"out_of_area_ratio"`
	OutOfAreaSatisfied  bool           `json:"out_of_area_satisfied"`
	CanProceed          bool           `json:"can_proceed"`
	EffectiveDateInPast bool           `json:"effective_date_in_past"`
	Page                int            `json:"page"`
	PageCount           int            `json:"page_count"`
	Selected            string         `json:"selected,omitempty"`
	Households          []HouseholdDTO `json:"households"`
}

// HouseholdDTO is one employee with dependents.
type HouseholdDTO struct {
	Index       int             `json:"index"`
	Employee    census.Member   `json:"employee"`
	Dependents  []census.Member `json:"dependents"`
	Composition string          `json:"composition"`
	HasError    bool            `json:"has_error"`
}

// UpdateMemberRequest replaces a member's editable fields.
type UpdateMemberRequest struct {
	Relationship     string            `json:"relationship" validate:"max=64"`
	FirstName        string            `json:"first_name" validate:"max=100"`
	LastName         string            `json:"last_name" validate:"max=100"`
	PostalCode       string            `json:"postal_code" validate:"max=10"`
	BirthDate        string            `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	DeclaredAge      *int              `json:"declared_age" validate:"omitempty,gte=0,lte=200"`
	PhysicalPresence bool              `json:"physical_presence"`
	PlanIDs          []string          `json:"plan_ids" validate:"omitempty,dive,required"`
	Extra            map[string]string `json:"extra"`
}

// PlanSelectionDTO is one plan column of an import row.
type PlanSelectionDTO struct {
	Header string `json:"header" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

// ImportRowDTO is one spreadsheet row after column mapping.
type ImportRowDTO struct {
	Fields map[string]string  `json:"fields"`
	Plans  []PlanSelectionDTO `json:"plans" validate:"omitempty,dive"`
}

// ImportRequest carries mapped spreadsheet rows.
type ImportRequest struct {
	Rows []ImportRowDTO `json:"rows" validate:"required,min=1,dive"`
}

// ImportResponse reports what happened to an import.
type ImportResponse struct {
	Members       int                  `json:"members"`
	Saved         bool                 `json:"saved"`
	Errors        []census.MemberError `json:"errors,omitempty"`
	AddPlanErrors string               `json:"add_plan_errors,omitempty"`
	Validation    *ValidationDTO       `json:"validation,omitempty"`
	Session       SessionDTO           `json:"session"`
}

// ValidationDTO lists why a census cannot be saved.
type ValidationDTO struct {
	Failures    []census.MemberError `json:"failures,omitempty"`
	NoEmployees bool                 `json:"no_employees,omitempty"`
	Orphans     []string             `json:"orphans,omitempty"`
}

// SaveResponse reports the outcome of a save.
type SaveResponse struct {
	Errors        []census.MemberError `json:"errors,omitempty"`
	AddPlanErrors string               `json:"add_plan_errors,omitempty"`
	Session       SessionDTO           `json:"session"`
}

// ChangeSetDTO previews the next save.
type ChangeSetDTO struct {
	ToDelete []string        `json:"to_delete"`
	ToUpsert []census.Member `json:"to_upsert"`
}

// SetPageRequest moves to a page.
type SetPageRequest struct {
	Page int    `json:"page" validate:"gte=0"`
	Sort string `json:"sort" validate:"omitempty,oneof=lastName firstName"`
}

// SelectResponse is the selection state after a toggle.
type SelectResponse struct {
	Selected bool `json:"selected"`
}

// =============================================================================
// SERVICE AREA
// =============================================================================

// ServiceAreaRequest registers serviceable zips for a region.
type ServiceAreaRequest struct {
	Region string   `json:"region" validate:"required,max=32"`
	Zips   []string `json:"zips" validate:"required,min=1,dive,required,max=10"`
}

// ZipParamDTO is one lookup entry on the wire.
type ZipParamDTO struct {
	Zipcode string `json:"zipcode" validate:"required"`
	Region  string `json:"region"`
}

// LookupRequest is the remote lookup body served by this API.
type LookupRequest struct {
	Params []ZipParamDTO `json:"params" validate:"required,dive"`
}

// LookupResponse lists the serviceable zips.
type LookupResponse struct {
	Result []ZipParamDTO `json:"result"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
