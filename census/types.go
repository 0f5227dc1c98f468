/*
Package census provides the census reconciliation and eligibility engine.

PURPOSE:
  A census is the list of people a group wants to enroll: primary members
  (employees) and their dependents, linked by a foreign identifier. This
  package turns flat member records into households, validates them under
  date-sensitive eligibility rules, checks service-area membership, imports
  spreadsheet rows, and reconciles an edited census against the last
  persisted snapshot.

KEY CONCEPTS IN THIS FILE (types.go):
  - Relationship: Employee, Spouse, Domestic Partner, Child, ...
  - Member: One person record, primary or dependent
  - Census: Ordered member list (insertion order)
  - ChangeSet: Minimal delete/upsert set to persist an edited census

DESIGN PRINCIPLES:
  1. Derived flags: IsPrimary / IsSpouseOrPartner come from Relationship only
  2. Rebuild, don't patch: every mutation produces a new Census and a fresh
     Hierarchy; counts are never incrementally updated
  3. Server owns PersistedID: it is set by a load round trip, never locally
  4. Typed records: field-name mapping happens once, in fields.go

USAGE:
  h := census.BuildHierarchy(members)
  v := census.Validator{EffectiveDate: eff, NewEnrollment: true}
  result := v.Validate(member)

SEE ALSO:
  - hierarchy.go: Households and summary counts
  - validator.go: Required-field and eligibility validation
  - session.go: Stateful workflow tying everything together
*/
package census

import (
	"strings"
)

// =============================================================================
// RELATIONSHIP
// =============================================================================

type Relationship string

const (
	RelationshipEmployee        Relationship = "Employee"
	RelationshipSpouse          Relationship = "Spouse"
	RelationshipDomesticPartner Relationship = "Domestic Partner"
	RelationshipChild           Relationship = "Child"
	RelationshipOverAgeDisabled Relationship = "Over-age Disabled Dependent"
	RelationshipNotCovered      Relationship = "Not Covered"
)

// Relationships lists the valid values in display order.
var Relationships = []Relationship{
	RelationshipEmployee,
	RelationshipSpouse,
	RelationshipDomesticPartner,
	RelationshipChild,
	RelationshipOverAgeDisabled,
	RelationshipNotCovered,
}

// Valid reports whether r is one of the enumerated values.
func (r Relationship) Valid() bool {
	for _, v := range Relationships {
		if r == v {
			return true
		}
	}
	return false
}

func (r Relationship) IsPrimary() bool { return r == RelationshipEmployee }

func (r Relationship) IsSpouseOrPartner() bool {
	return r == RelationshipSpouse || r == RelationshipDomesticPartner
}

// IsDependent is true for every valid non-employee relationship.
func (r Relationship) IsDependent() bool { return r.Valid() && !r.IsPrimary() }

// NormalizeRelationship maps a label to its canonical value, ignoring case
// and surrounding whitespace. Unknown labels are returned unchanged so the
// validator can report them.
func NormalizeRelationship(label string) Relationship {
	trimmed := strings.TrimSpace(label)
	for _, v := range Relationships {
		if strings.EqualFold(trimmed, string(v)) {
			return v
		}
	}
	return Relationship(label)
}

// =============================================================================
// MEMBER - One person record
// =============================================================================

type Member struct {
	// Identifier is stable within a session. Generated client-side for new
	// records, authoritative once persisted.
	Identifier string `json:"identifier"`
	// PersistedID is present once the record has been saved. Its presence
	// is the only signal that the record exists on the server.
	PersistedID       string `json:"persistedId,omitempty"`
	PrimaryIdentifier string `json:"primaryIdentifier"`

	IsPrimary         bool         `json:"isPrimary"`
	IsSpouseOrPartner bool         `json:"isSpouseOrPartner"`
	Relationship      Relationship `json:"relationship"`

	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PostalCode  string `json:"postalCode"`
	BirthDate   Date   `json:"birthDate"`
	DeclaredAge *int   `json:"declaredAge,omitempty"`

	// PhysicalPresence is the manual override for a primary member who
	// lives outside the service area but works inside it.
	PhysicalPresence bool              `json:"physicalPresence"`
	PlanIDs          []string          `json:"planIds,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`

	Edited     bool   `json:"edited"`
	Error      string `json:"error,omitempty"`
	InvalidZip bool   `json:"invalidZip"`
	OutOfArea  bool   `json:"outOfArea"`
}

// Persisted reports whether the record exists on the server.
func (m Member) Persisted() bool { return m.PersistedID != "" }

// Derive recomputes IsPrimary and IsSpouseOrPartner from Relationship.
// Unknown relationships leave the flags untouched. A primary always
// references itself.
func (m *Member) Derive() {
	switch {
	case m.Relationship.IsPrimary():
		m.IsPrimary = true
		m.IsSpouseOrPartner = false
	case m.Relationship.IsSpouseOrPartner():
		m.IsPrimary = false
		m.IsSpouseOrPartner = true
	case m.Relationship.IsDependent():
		m.IsPrimary = false
		m.IsSpouseOrPartner = false
	}
	if m.IsPrimary {
		m.PrimaryIdentifier = m.Identifier
	}
}

// Clone returns a deep copy.
func (m Member) Clone() Member {
	out := m
	if m.DeclaredAge != nil {
		age := *m.DeclaredAge
		out.DeclaredAge = &age
	}
	if m.PlanIDs != nil {
		out.PlanIDs = append([]string(nil), m.PlanIDs...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// FullName joins first and last name for display and logs.
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// =============================================================================
// CENSUS - Ordered member list
// =============================================================================

type Census []Member

// Clone deep-copies every member.
func (c Census) Clone() Census {
	if c == nil {
		return nil
	}
	out := make(Census, len(c))
	for i, m := range c {
		out[i] = m.Clone()
	}
	return out
}

// Index returns the position of the member with the given identifier, or -1.
func (c Census) Index(identifier string) int {
	for i, m := range c {
		if m.Identifier == identifier {
			return i
		}
	}
	return -1
}

// Find returns the member with the given identifier.
func (c Census) Find(identifier string) (Member, bool) {
	if i := c.Index(identifier); i >= 0 {
		return c[i], true
	}
	return Member{}, false
}

// Edited returns the members flagged for the next save batch.
func (c Census) Edited() []Member {
	var out []Member
	for _, m := range c {
		if m.Edited {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// CHANGE SET - Result of reconciliation
// =============================================================================

type ChangeSet struct {
	ToDelete []string // persisted ids
	ToUpsert []Member // edited members, census order
}

func (cs ChangeSet) IsEmpty() bool { return len(cs.ToDelete) == 0 && len(cs.ToUpsert) == 0 }

// MemberError is a per-record error reported by the member service.
type MemberError struct {
	Identifier string `json:"identifier"`
	Error      string `json:"error"`
}
