package census

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fivePrimaries(zips ...string) Census {
	c := make(Census, 0, len(zips))
	for i, z := range zips {
		c = append(c, employee(string(rune('a'+i)), "F", "L", z, "1980-01-01"))
	}
	return c
}

func TestServiceArea_OutOfAreaRatio(t *testing.T) {
	area := NewServiceArea()
	area.Add([]string{"10001", "99999"}, []string{"10001"})

	t.Run("3 of 5 out of area is ineligible", func(t *testing.T) {
		// GIVEN: 5 primaries, 3 with unserviceable zips
		// WHEN: Applying the service area for a new enrollment
		// THEN: 0.6 > 0.49, rule fails

		_, res := area.Apply(fivePrimaries("10001", "10001", "99999", "99999", "99999"), true)

		assert.Equal(t, 5, res.Primaries)
		assert.Equal(t, 3, res.OutOfArea)
		assert.True(t, res.Ratio.Equal(decimal.RequireFromString("0.6")))
		assert.False(t, res.RuleSatisfied)
	})

	t.Run("2 of 5 out of area is eligible", func(t *testing.T) {
		_, res := area.Apply(fivePrimaries("10001", "10001", "10001", "99999", "99999"), true)

		assert.True(t, res.Ratio.Equal(decimal.RequireFromString("0.4")))
		assert.True(t, res.RuleSatisfied)
	})

	t.Run("existing group ignores the ratio", func(t *testing.T) {
		_, res := area.Apply(fivePrimaries("99999", "99999", "99999", "99999", "99999"), false)

		assert.False(t, res.RuleApplies)
		assert.True(t, res.RuleSatisfied)
	})

	t.Run("no primaries satisfies the rule", func(t *testing.T) {
		c := Census{dependent("c1", "e1", RelationshipChild, "2015-01-01")}

		_, res := area.Apply(c, true)

		assert.Equal(t, 0, res.Primaries)
		assert.True(t, res.RuleSatisfied)
	})
}

func TestServiceArea_PhysicalPresenceOverride(t *testing.T) {
	// GIVEN: 3 of 5 primaries out of area, one of them physically present
	// WHEN: Applying
	// THEN: Only 2 count toward the ratio

	area := NewServiceArea()
	area.Add(nil, []string{"10001"})
	c := fivePrimaries("10001", "10001", "99999", "99999", "99999")
	c[2].PhysicalPresence = true

	out, res := area.Apply(c, true)

	assert.True(t, out[2].InvalidZip)
	assert.False(t, out[2].OutOfArea)
	assert.Equal(t, 2, res.OutOfArea)
	assert.True(t, res.RuleSatisfied)
	assert.Len(t, OutOfAreaPrimaries(out), 2)
}

func TestServiceArea_InvalidZipFlags(t *testing.T) {
	area := NewServiceArea()
	area.Add(nil, []string{"10001"})
	c := Census{
		employee("e1", "A", "B", "10001", "1980-01-01"),
		employee("e2", "A", "B", "", "1980-01-01"),
		employee("e3", "A", "B", "55555", "1980-01-01"),
		dependent("c3", "e3", RelationshipChild, "2015-01-01"),
	}
	c[3].PostalCode = "55555"

	out, _ := area.Apply(c, true)

	assert.False(t, out[0].InvalidZip)
	assert.False(t, out[1].InvalidZip, "empty zip is never invalid")
	assert.True(t, out[2].InvalidZip)
	assert.True(t, out[3].InvalidZip, "dependents are flagged too")
	assert.False(t, c[2].InvalidZip, "input is not mutated")
}

func TestServiceArea_Unchecked(t *testing.T) {
	area := NewServiceArea()
	area.Add([]string{"99999"}, []string{"10001"})
	c := fivePrimaries("10001", "99999", "20002", "20002", " 30003 ")

	assert.Equal(t, []string{"20002", "30003"}, area.Unchecked(c))

	area.Add([]string{"20002", "30003"}, []string{"30003"})
	assert.Empty(t, area.Unchecked(c))
	assert.Equal(t, []string{"10001", "30003"}, area.Known())
}

func TestZipRequests(t *testing.T) {
	reqs := ZipRequests([]string{"10001", "20002"}, "NY")

	require.Len(t, reqs, 2)
	assert.Equal(t, ZipRequest{PostalCode: "20002", Region: "NY"}, reqs[1])
}
