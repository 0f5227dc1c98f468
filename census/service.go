package census

import (
	"context"
	"strings"
)

// =============================================================================
// HEADERS - Field catalogue shared with the member service
// =============================================================================

type HeaderType string

const (
	HeaderText     HeaderType = "TEXT"
	HeaderDate     HeaderType = "DATE"
	HeaderDateTime HeaderType = "DATETIME"
	HeaderNumber   HeaderType = "NUMBER"
	HeaderBoolean  HeaderType = "BOOLEAN"
	HeaderPicklist HeaderType = "PICKLIST"
)

// IsDate reports whether values of this type need import date normalization.
func (t HeaderType) IsDate() bool { return t == HeaderDate || t == HeaderDateTime }

// PlanOption is one entry of the enrollment-plan catalogue.
type PlanOption struct {
	Type  string `json:"type"`  // plan category, matched against the import column
	Name  string `json:"name"`  // display label, matched against the cell value
	Value string `json:"value"` // plan identifier stored on the member
}

// Header describes one census field.
type Header struct {
	Name     string       `json:"name"`
	Label    string       `json:"label"`
	Type     HeaderType   `json:"type"`
	Required bool         `json:"required,omitempty"`
	Options  []PlanOption `json:"options,omitempty"`
}

// FindHeader returns the header with the given name.
func FindHeader(headers []Header, name string) (Header, bool) {
	for _, h := range headers {
		if h.Name == name {
			return h, true
		}
	}
	return Header{}, false
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// LoadResult is the current census as held by the member service.
type LoadResult struct {
	Headers []Header
	Members []Member
}

// MsgPrimaryNotFound is reported by member services for a dependent whose
// primary is neither stored nor part of the same save batch.
const MsgPrimaryNotFound = "The primary member for this dependent could not be found."

// SaveResult carries per-record errors. Records not listed were saved.
type SaveResult struct {
	Errors        []MemberError
	AddPlanErrors string
}

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks MemberService,ServiceAreaLookup

// MemberService is the source of truth for census members.
type MemberService interface {
	LoadMembers(ctx context.Context, censusID, fieldset string) (LoadResult, error)
	SaveMembers(ctx context.Context, censusID string, headers []Header, members []Member) (SaveResult, error)
	DeleteMembers(ctx context.Context, censusID string, headers []Header, persistedIDs []string) error
}

// ServiceAreaLookup returns the serviceable subset of the requested zips.
type ServiceAreaLookup interface {
	LookupServiceArea(ctx context.Context, requests []ZipRequest) ([]string, error)
}

// UnknownPlans lists plan identifiers on members that the plan catalogue
// does not offer, formatted for SaveResult.AddPlanErrors. Returns "" when
// every plan is known or no catalogue is present.
func UnknownPlans(headers []Header, planHeader string, members []Member) string {
	if planHeader == "" {
		planHeader = KeyPlans
	}
	h, ok := FindHeader(headers, planHeader)
	if !ok || len(h.Options) == 0 {
		return ""
	}
	offered := make(map[string]bool, len(h.Options))
	for _, o := range h.Options {
		offered[o.Value] = true
	}
	seen := make(map[string]bool)
	var unknown []string
	for _, m := range members {
		for _, id := range m.PlanIDs {
			if !offered[id] && !seen[id] {
				seen[id] = true
				unknown = append(unknown, id)
			}
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	return "Unknown plans: " + strings.Join(unknown, PlanSeparator)
}
