/*
servicearea.go - Postal code membership and the out-of-area ratio rule

PURPOSE:
  Tracks which postal codes are serviceable and derives InvalidZip and
  OutOfArea for every member. For new enrollments it also enforces the
  out-of-area (OOA) ratio rule over primary members.

CACHE:
  The known-serviceable set is owned by a ServiceArea value. It only grows:
  each lookup adds the serviceable zips it returned and marks every
  requested zip as checked, so a zip is never looked up twice. Because the
  set is monotonic, applying a lookup result to whatever the census looks
  like when the lookup finishes is always safe.

OOA RATIO:
  ratio = primaries(InvalidZip and not PhysicalPresence) / primaries
  ratio > 0.49 makes the census ineligible. With no primaries the rule is
  satisfied; the zero-employee check in hierarchy.go reports that case.

SEE ALSO:
  - service.go: ServiceAreaLookup contract
  - session.go: Triggers lookups after edits, loads and imports
*/
package census

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// OutOfAreaThreshold is the largest allowed share of out-of-area primaries.
var OutOfAreaThreshold = decimal.RequireFromString("0.49")

// ZipRequest is one postal code sent to the service-area lookup.
type ZipRequest struct {
	PostalCode string `json:"postalCode"`
	Region     string `json:"region"`
}

// ServiceArea is the serviceable postal-code cache for one session.
// Safe for concurrent use.
type ServiceArea struct {
	mu      sync.RWMutex
	known   map[string]bool
	checked map[string]bool
}

func NewServiceArea() *ServiceArea {
	return &ServiceArea{
		known:   make(map[string]bool),
		checked: make(map[string]bool),
	}
}

// Add records a lookup result: serviceable zips become known and every
// requested zip is marked checked.
func (a *ServiceArea) Add(requested, serviceable []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, z := range requested {
		a.checked[normalizeZip(z)] = true
	}
	for _, z := range serviceable {
		z = normalizeZip(z)
		a.known[z] = true
		a.checked[z] = true
	}
}

// Contains reports whether the postal code is known to be serviceable.
func (a *ServiceArea) Contains(zip string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.known[normalizeZip(zip)]
}

// IsInvalidZip is true when the zip is non-empty and not serviceable.
func (a *ServiceArea) IsInvalidZip(zip string) bool {
	z := normalizeZip(zip)
	if z == "" {
		return false
	}
	return !a.Contains(z)
}

// Known returns the serviceable zips, sorted.
func (a *ServiceArea) Known() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.known))
	for z := range a.known {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}

// Unchecked returns the distinct non-empty postal codes in c that have
// never been looked up, in census order.
func (a *ServiceArea) Unchecked(c Census) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range c {
		z := normalizeZip(m.PostalCode)
		if z == "" || seen[z] || a.checked[z] {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	return out
}

func normalizeZip(zip string) string { return strings.TrimSpace(zip) }

// =============================================================================
// APPLY
// =============================================================================

// AreaResult is the census-wide service-area outcome.
type AreaResult struct {
	Primaries     int
	OutOfArea     int
	Ratio         decimal.Decimal
	RuleApplies   bool // new enrollment only
	RuleSatisfied bool
}

// Apply returns a copy of c with InvalidZip and OutOfArea recomputed, and
// the OOA ratio outcome. The ratio rule only applies to new enrollments.
func (a *ServiceArea) Apply(c Census, newEnrollment bool) (Census, AreaResult) {
	out := make(Census, len(c))
	res := AreaResult{RuleApplies: newEnrollment, RuleSatisfied: true, Ratio: decimal.Zero}
	for i, m := range c {
		m = m.Clone()
		m.InvalidZip = a.IsInvalidZip(m.PostalCode)
		m.OutOfArea = m.InvalidZip && !m.PhysicalPresence
		if m.IsPrimary {
			res.Primaries++
			if m.OutOfArea {
				res.OutOfArea++
			}
		}
		out[i] = m
	}
	if res.Primaries > 0 {
		res.Ratio = decimal.NewFromInt(int64(res.OutOfArea)).
			Div(decimal.NewFromInt(int64(res.Primaries)))
		if newEnrollment {
			res.RuleSatisfied = !res.Ratio.GreaterThan(OutOfAreaThreshold)
		}
	}
	return out, res
}

// OutOfAreaPrimaries lists primaries outside the service area without a
// physical-presence override, in census order.
func OutOfAreaPrimaries(c Census) []Member {
	var out []Member
	for _, m := range c {
		if m.IsPrimary && m.OutOfArea {
			out = append(out, m)
		}
	}
	return out
}

// ZipRequests builds lookup requests for the given zips in one region.
func ZipRequests(zips []string, region string) []ZipRequest {
	out := make([]ZipRequest, 0, len(zips))
	for _, z := range zips {
		out = append(out, ZipRequest{PostalCode: z, Region: region})
	}
	return out
}
