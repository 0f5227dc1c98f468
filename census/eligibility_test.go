package census

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAge_DependentLimit(t *testing.T) {
	// GIVEN: A Child at 26 and at 25
	// WHEN: Evaluating
	// THEN: Only 26 is too old

	assert.True(t, EvaluateAge(26, RelationshipChild).DependentTooOld)
	assert.False(t, EvaluateAge(25, RelationshipChild).DependentTooOld)
}

func TestEvaluateAge_OnlyChildHasDependentLimit(t *testing.T) {
	for _, rel := range []Relationship{RelationshipSpouse, RelationshipDomesticPartner, RelationshipOverAgeDisabled, RelationshipNotCovered} {
		assert.True(t, EvaluateAge(40, rel).Eligible(), "relationship %s", rel)
	}
}

func TestEvaluateAge_EmployeeLimits(t *testing.T) {
	tests := []struct {
		age      int
		tooOld   bool
		tooYoung bool
	}{
		{17, false, true},
		{18, false, false},
		{120, false, false},
		{121, true, false},
	}
	for _, tt := range tests {
		e := EvaluateAge(tt.age, RelationshipEmployee)
		assert.Equal(t, tt.tooOld, e.EmployeeTooOld, "age %d", tt.age)
		assert.Equal(t, tt.tooYoung, e.EmployeeTooYoung, "age %d", tt.age)
		assert.False(t, e.DependentTooOld)
	}
}

func TestEligibility_Message(t *testing.T) {
	assert.Equal(t, MsgEmployeeTooOld, Eligibility{EmployeeTooOld: true, EmployeeTooYoung: true}.Message())
	assert.Equal(t, MsgEmployeeTooYoung, Eligibility{EmployeeTooYoung: true}.Message())
	assert.Equal(t, MsgDependentTooOld, Eligibility{DependentTooOld: true}.Message())
	assert.Equal(t, "", Eligibility{}.Message())
}

func TestRules_EitherAgeSourceTrips(t *testing.T) {
	// GIVEN: A Child whose birth date gives 10 but who declares 30
	// WHEN: Evaluating
	// THEN: Flagged, the declared age is checked independently

	rules := Rules{EffectiveDate: MustParseDate("2024-01-01")}
	child := dependent("c1", "e1", RelationshipChild, "2013-06-01")
	child.DeclaredAge = intPtr(30)

	assert.True(t, rules.Evaluate(child).DependentTooOld)

	age, ok := rules.Age(child)
	assert.True(t, ok)
	assert.Equal(t, 10, age, "derived age wins for display")
}

func TestRules_DeclaredAgeOnly(t *testing.T) {
	rules := Rules{EffectiveDate: MustParseDate("2024-01-01")}
	emp := employee("e1", "Ada", "Lovelace", "10001", "")
	emp.DeclaredAge = intPtr(16)

	assert.True(t, rules.Evaluate(emp).EmployeeTooYoung)

	age, ok := rules.Age(emp)
	assert.True(t, ok)
	assert.Equal(t, 16, age)
}

func TestRules_NoAgeSource_NoViolation(t *testing.T) {
	rules := Rules{EffectiveDate: MustParseDate("2024-01-01")}

	assert.True(t, rules.Evaluate(employee("e1", "Ada", "Lovelace", "10001", "")).Eligible())
}
