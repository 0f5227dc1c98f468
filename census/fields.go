package census

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// BOUNDARY FIELD MAPPING
// =============================================================================
//
// Records cross the import/export boundary as flat name -> text maps. This is
// the only place that knows the field names; everything else works on Member.

// Canonical record field names.
const (
	KeyIdentifier        = "member_identifier"
	KeyPrimaryIdentifier = "primary_member_identifier"
	KeyPersistedID       = "persisted_id"
	KeyRelationship      = "relationship"
	KeyFirstName         = "first_name"
	KeyLastName          = "last_name"
	KeyPostalCode        = "postal_code"
	KeyBirthDate         = "birth_date"
	KeyAge               = "age"
	KeyPhysicalPresence  = "physical_presence"
	KeyPlans             = "plans"
)

// PlanSeparator joins plan identifiers in a single record field.
const PlanSeparator = ";"

var declaredAgePattern = regexp.MustCompile(`^[0-9]+$`)

// Record is a member as a flat field map.
type Record map[string]string

// ParseDeclaredAge accepts only non-negative integer text.
func ParseDeclaredAge(s string) *int {
	s = strings.TrimSpace(s)
	if !declaredAgePattern.MatchString(s) {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "x":
		return true
	}
	return false
}

// SplitPlans splits a joined plan field, dropping blanks.
func SplitPlans(s string) []string {
	var out []string
	for _, p := range strings.Split(s, PlanSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyRecord overlays the fields present in r onto m. Keys absent from r
// leave m untouched; unknown keys go to Extra. Flags are not re-derived.
func ApplyRecord(m *Member, r Record) {
	for k, v := range r {
		switch k {
		case KeyIdentifier:
			if v = strings.TrimSpace(v); v != "" {
				m.Identifier = v
			}
		case KeyPrimaryIdentifier:
			m.PrimaryIdentifier = strings.TrimSpace(v)
		case KeyPersistedID:
			m.PersistedID = strings.TrimSpace(v)
		case KeyRelationship:
			m.Relationship = NormalizeRelationship(v)
		case KeyFirstName:
			m.FirstName = v
		case KeyLastName:
			m.LastName = v
		case KeyPostalCode:
			m.PostalCode = strings.TrimSpace(v)
		case KeyBirthDate:
			m.BirthDate, _ = ParseDate(v)
		case KeyAge:
			m.DeclaredAge = ParseDeclaredAge(v)
		case KeyPhysicalPresence:
			m.PhysicalPresence = parseFlag(v)
		case KeyPlans:
			m.PlanIDs = SplitPlans(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
}

// MemberFromRecord builds a member from a stored or wire record and derives
// its flags. Loaded records start unedited.
func MemberFromRecord(r Record) Member {
	var m Member
	ApplyRecord(&m, r)
	m.Derive()
	return m
}

// ToRecord flattens m. Empty optional fields are omitted.
func (m Member) ToRecord() Record {
	r := make(Record, len(m.Extra)+11)
	for k, v := range m.Extra {
		r[k] = v
	}
	r[KeyIdentifier] = m.Identifier
	r[KeyPrimaryIdentifier] = m.PrimaryIdentifier
	r[KeyRelationship] = string(m.Relationship)
	r[KeyFirstName] = m.FirstName
	r[KeyLastName] = m.LastName
	r[KeyPostalCode] = m.PostalCode
	if m.PersistedID != "" {
		r[KeyPersistedID] = m.PersistedID
	}
	if !m.BirthDate.IsZero() {
		r[KeyBirthDate] = m.BirthDate.String()
	}
	if m.DeclaredAge != nil {
		r[KeyAge] = strconv.Itoa(*m.DeclaredAge)
	}
	if m.PhysicalPresence {
		r[KeyPhysicalPresence] = "true"
	}
	if len(m.PlanIDs) > 0 {
		r[KeyPlans] = strings.Join(m.PlanIDs, PlanSeparator)
	}
	return r
}

// Keys returns the record's field names, sorted.
func (r Record) Keys() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
