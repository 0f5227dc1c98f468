/*
hierarchy.go - Households and summary counts from a flat census

PURPOSE:
  Groups the flat member list into primary members with their dependents
  and counts household compositions. The hierarchy is a derived view: it
  is rebuilt from the census after every mutation, never patched.

ALGORITHM:
  Pass 1: primaries become households (zero-based display index) in census
          order; every other record is bucketed by PrimaryIdentifier.
  Pass 2: each household picks up its bucket (empty if none) and is
          classified:
            spouse/partner + other dependent -> Family
            spouse/partner only              -> Spouse
            other dependents only            -> Child
            no dependents                    -> Employee only
  Buckets whose owner is not a primary are orphans.

VALIDITY:
  A census can proceed only if it has at least one employee, no orphans,
  and every record passes the validator.

SEE ALSO:
  - validator.go: Per-record validation
  - session.go: Rebuilds the hierarchy on every mutation
*/
package census

import (
	"sort"
	"strings"
)

// =============================================================================
// TYPES
// =============================================================================

type Composition string

const (
	CompositionEmployeeOnly Composition = "employee_only"
	CompositionSpouse       Composition = "employee_spouse"
	CompositionChild        Composition = "employee_child"
	CompositionFamily       Composition = "employee_family"
)

// Household is a primary member with its dependents.
type Household struct {
	Index       int         `json:"index"`
	Employee    Member      `json:"employee"`
	Dependents  []Member    `json:"dependents"`
	Composition Composition `json:"composition"`
}

// HasError is true if the employee or any dependent carries an error.
func (h Household) HasError() bool {
	if h.Employee.Error != "" {
		return true
	}
	for _, d := range h.Dependents {
		if d.Error != "" {
			return true
		}
	}
	return false
}

// Summary holds aggregate counts. Always recomputed from the census.
type Summary struct {
	Total          int `json:"total"`
	DependentCount int `json:"dependentCount"`
	EmployeeCount  int `json:"employeeCount"`
	EmployeeOnly   int `json:"employeeOnly"`
	EmployeeSpouse int `json:"employeeSpouse"`
	EmployeeChild  int `json:"employeeChild"`
	EmployeeFamily int `json:"employeeFamily"`
}

// Hierarchy is the derived household view of a census.
type Hierarchy struct {
	Households        []Household
	DependentsByOwner map[string][]Member
	Orphans           []Member
	Summary           Summary
}

// =============================================================================
// BUILDER
// =============================================================================

// BuildHierarchy groups c into households and counts compositions.
func BuildHierarchy(c Census) Hierarchy {
	h := Hierarchy{
		DependentsByOwner: make(map[string][]Member),
		Summary:           Summary{Total: len(c)},
	}

	var employees []Member
	for _, m := range c {
		if m.IsPrimary {
			employees = append(employees, m)
			continue
		}
		h.DependentsByOwner[m.PrimaryIdentifier] = append(h.DependentsByOwner[m.PrimaryIdentifier], m)
	}

	owners := make(map[string]bool, len(employees))
	h.Households = make([]Household, 0, len(employees))
	for i, e := range employees {
		owners[e.Identifier] = true
		deps := h.DependentsByOwner[e.Identifier]
		if deps == nil {
			deps = []Member{}
		}
		comp := classify(deps)
		h.Households = append(h.Households, Household{
			Index:       i,
			Employee:    e,
			Dependents:  deps,
			Composition: comp,
		})
		h.Summary.DependentCount += len(deps)
		switch comp {
		case CompositionFamily:
			h.Summary.EmployeeFamily++
		case CompositionSpouse:
			h.Summary.EmployeeSpouse++
		case CompositionChild:
			h.Summary.EmployeeChild++
		default:
			h.Summary.EmployeeOnly++
		}
	}
	h.Summary.EmployeeCount = len(employees)

	for _, m := range c {
		if !m.IsPrimary && !owners[m.PrimaryIdentifier] {
			h.Orphans = append(h.Orphans, m)
		}
	}
	return h
}

func classify(deps []Member) Composition {
	var spouse, other bool
	for _, d := range deps {
		if d.IsSpouseOrPartner {
			spouse = true
		} else {
			other = true
		}
	}
	switch {
	case spouse && other:
		return CompositionFamily
	case spouse:
		return CompositionSpouse
	case other:
		return CompositionChild
	}
	return CompositionEmployeeOnly
}

// Household returns the household owned by the given primary identifier.
func (h Hierarchy) Household(identifier string) (Household, bool) {
	for _, hh := range h.Households {
		if hh.Employee.Identifier == identifier {
			return hh, true
		}
	}
	return Household{}, false
}

// =============================================================================
// CENSUS VALIDITY
// =============================================================================

// CheckCensus returns nil if the census can proceed, otherwise the reasons
// it cannot. It does not mutate member errors.
func (v Validator) CheckCensus(c Census, h Hierarchy) *CensusValidationError {
	var out CensusValidationError
	invalid := false
	if h.Summary.EmployeeCount == 0 {
		out.NoEmployees = true
		invalid = true
	}
	for _, m := range c {
		if res := v.Validate(m); !res.Valid {
			out.Failures = append(out.Failures, MemberError{Identifier: m.Identifier, Error: res.Message})
			invalid = true
		}
	}
	for _, o := range h.Orphans {
		out.Orphans = append(out.Orphans, o.Identifier)
		invalid = true
	}
	if !invalid {
		return nil
	}
	return &out
}

// =============================================================================
// SORTING
// =============================================================================

type SortKey string

const (
	SortNone      SortKey = ""
	SortLastName  SortKey = "lastName"
	SortFirstName SortKey = "firstName"
)

// ParseSortKey accepts the values above; anything else means no sort.
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortLastName, SortFirstName:
		return SortKey(s)
	}
	return SortNone
}

// SortHouseholds returns households ordered by the employee's name field,
// case-insensitively, ties kept in census order. Display indexes are
// reassigned to the new order.
func SortHouseholds(hs []Household, key SortKey) []Household {
	out := append([]Household(nil), hs...)
	if key == SortNone {
		return out
	}
	field := func(m Member) string {
		if key == SortFirstName {
			return strings.ToLower(m.FirstName)
		}
		return strings.ToLower(m.LastName)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return field(out[i].Employee) < field(out[j].Employee)
	})
	for i := range out {
		out[i].Index = i
	}
	return out
}
