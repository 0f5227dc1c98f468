package census

// =============================================================================
// ELIGIBILITY RULES - Age limits per relationship
// =============================================================================

const (
	// MaxDependentAge is the first age at which a Child is ineligible.
	MaxDependentAge = 26
	// MaxEmployeeAge is the first age treated as an implausible birth date.
	MaxEmployeeAge = 121
	// MinEmployeeAge is the youngest age an employee may enroll at.
	MinEmployeeAge = 18
)

// Fixed messages. Downstream systems match on these strings.
const (
	MsgDependentTooOld  = "Non-disabled dependents over the age of 25 at the effective date cannot be enrolled."
	MsgEmployeeTooOld   = "Enter a valid date of birth."
	MsgEmployeeTooYoung = "The employee may not meet the minimum age requirement. If the birth date is correct, additional documentation will be required for enrollment."
)

// Eligibility holds the age-rule violations for one record.
type Eligibility struct {
	DependentTooOld  bool
	EmployeeTooOld   bool
	EmployeeTooYoung bool
}

// EvaluateAge applies the age rules to a single age.
func EvaluateAge(age int, rel Relationship) Eligibility {
	return Eligibility{
		DependentTooOld:  rel == RelationshipChild && age >= MaxDependentAge,
		EmployeeTooOld:   rel == RelationshipEmployee && age >= MaxEmployeeAge,
		EmployeeTooYoung: rel == RelationshipEmployee && age < MinEmployeeAge,
	}
}

// Or merges violations from two age sources.
func (e Eligibility) Or(other Eligibility) Eligibility {
	return Eligibility{
		DependentTooOld:  e.DependentTooOld || other.DependentTooOld,
		EmployeeTooOld:   e.EmployeeTooOld || other.EmployeeTooOld,
		EmployeeTooYoung: e.EmployeeTooYoung || other.EmployeeTooYoung,
	}
}

// Eligible is true when no rule is violated.
func (e Eligibility) Eligible() bool {
	return !e.DependentTooOld && !e.EmployeeTooOld && !e.EmployeeTooYoung
}

// Message returns the message of the highest-priority violation, or "".
// Too-old is reported before too-young.
func (e Eligibility) Message() string {
	switch {
	case e.EmployeeTooOld:
		return MsgEmployeeTooOld
	case e.EmployeeTooYoung:
		return MsgEmployeeTooYoung
	case e.DependentTooOld:
		return MsgDependentTooOld
	}
	return ""
}

// Rules evaluates a member as of an effective date.
type Rules struct {
	EffectiveDate Date
}

// Ages returns the age derived from the birth date and the declared age.
// Either may be absent.
func (r Rules) Ages(m Member) (derived, declared *int) {
	if age, ok := AgeAt(m.BirthDate, r.EffectiveDate); ok {
		derived = &age
	}
	if m.DeclaredAge != nil {
		age := *m.DeclaredAge
		declared = &age
	}
	return derived, declared
}

// Evaluate checks both age sources; a rule trips if either source trips it.
func (r Rules) Evaluate(m Member) Eligibility {
	var out Eligibility
	derived, declared := r.Ages(m)
	if derived != nil {
		out = out.Or(EvaluateAge(*derived, m.Relationship))
	}
	if declared != nil {
		out = out.Or(EvaluateAge(*declared, m.Relationship))
	}
	return out
}

// Age returns the age used for display: the derived age when a birth date
// is present, otherwise the declared age.
func (r Rules) Age(m Member) (int, bool) {
	derived, declared := r.Ages(m)
	if derived != nil {
		return *derived, true
	}
	if declared != nil {
		return *declared, true
	}
	return 0, false
}
