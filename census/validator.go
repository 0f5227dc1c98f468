/*
validator.go - Required-field and eligibility validation for one member

PURPOSE:
  Decides whether a member record is complete and internally consistent,
  and which message to show when it is not. Results drive both the
  per-record error text and the census-wide "can proceed" gate.

REQUIRED FIELDS:
  All members:
    - Relationship, one of the enumerated values
    - New enrollment: birth date
    - Existing group: birth date OR declared age
  Primary members only:
    - First name, last name, postal code

  Age-rule violations (eligibility.go) invalidate the record regardless of
  field completeness.

MESSAGE ORDER:
  Fields are checked in a fixed order and the first failure wins:
  relationship, birth date, age rules, first name, last name, postal code.
  The same input always yields the same result.

SEE ALSO:
  - eligibility.go: Age rules
  - hierarchy.go: Census-wide validity
*/
package census

import "strings"

// Fixed validation messages.
const (
	MsgRequiredFieldsMissing      = "Required fields are missing."
	MsgDOBAndRelationshipRequired = "DOB and Relationship fields are required"
	MsgDOBOrRelationshipRequired  = "The Date of Birth or Relationship field is required"
)

// Field names reported by the validator.
const (
	FieldRelationship = "relationship"
	FieldBirthDate    = "birthDate"
	FieldFirstName    = "firstName"
	FieldLastName     = "lastName"
	FieldPostalCode   = "postalCode"
)

// ValidationResult is the outcome for one member.
type ValidationResult struct {
	Valid       bool
	Field       string // first failing field, "" when valid
	Message     string
	Eligibility Eligibility
}

// Validator validates members for one workflow.
type Validator struct {
	EffectiveDate Date
	// NewEnrollment selects the stricter new-customer rules: a birth date
	// is mandatory and the out-of-area ratio applies.
	NewEnrollment bool
}

func (v Validator) rules() Rules { return Rules{EffectiveDate: v.EffectiveDate} }

// Validate checks one member. It never mutates the member.
func (v Validator) Validate(m Member) ValidationResult {
	elig := v.rules().Evaluate(m)
	fail := func(field, msg string) ValidationResult {
		return ValidationResult{Field: field, Message: msg, Eligibility: elig}
	}

	if !m.Relationship.Valid() {
		return fail(FieldRelationship, MsgDOBAndRelationshipRequired)
	}

	hasBirthDate := !m.BirthDate.IsZero()
	if v.NewEnrollment && !hasBirthDate {
		return fail(FieldBirthDate, MsgDOBAndRelationshipRequired)
	}
	if !v.NewEnrollment && !hasBirthDate && m.DeclaredAge == nil {
		return fail(FieldBirthDate, MsgDOBOrRelationshipRequired)
	}

	if !elig.Eligible() {
		return fail(FieldBirthDate, elig.Message())
	}

	if m.IsPrimary {
		if strings.TrimSpace(m.FirstName) == "" {
			return fail(FieldFirstName, MsgRequiredFieldsMissing)
		}
		if strings.TrimSpace(m.LastName) == "" {
			return fail(FieldLastName, MsgRequiredFieldsMissing)
		}
		if strings.TrimSpace(m.PostalCode) == "" {
			return fail(FieldPostalCode, MsgRequiredFieldsMissing)
		}
	}

	return ValidationResult{Valid: true, Eligibility: elig}
}

// Apply validates m and returns a copy with Error set to the failure
// message, or cleared when the record passes.
func (v Validator) Apply(m Member) Member {
	res := v.Validate(m)
	out := m.Clone()
	if res.Valid {
		out.Error = ""
	} else {
		out.Error = res.Message
	}
	return out
}

// ValidateAll applies Apply to every member and returns the rebuilt census
// plus the failures in census order.
func (v Validator) ValidateAll(c Census) (Census, []MemberError) {
	out := make(Census, len(c))
	var failures []MemberError
	for i, m := range c {
		out[i] = v.Apply(m)
		if out[i].Error != "" {
			failures = append(failures, MemberError{Identifier: m.Identifier, Error: out[i].Error})
		}
	}
	return out, failures
}
