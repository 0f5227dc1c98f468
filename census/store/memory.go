// Package store provides in-memory census collaborators.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/census-engine/census"
)

// =============================================================================
// MEMORY STORE - In-memory member service and service-area lookup (dev/tests)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	censuses map[string]*censusData
	// serviceable zips by region
	areas map[string]map[string]bool
}

type censusData struct {
	headers []census.Header
	members []census.Member // insertion order
}

func NewMemory() *Memory {
	return &Memory{
		censuses: make(map[string]*censusData),
		areas:    make(map[string]map[string]bool),
	}
}

// Seed replaces a census wholesale. Members without a persisted id get one.
func (m *Memory) Seed(censusID string, headers []census.Header, members []census.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := &censusData{headers: append([]census.Header(nil), headers...)}
	for _, mem := range members {
		data.members = append(data.members, stored(mem, ""))
	}
	m.censuses[censusID] = data
}

// AddServiceArea marks zips as serviceable in a region.
func (m *Memory) AddServiceArea(region string, zips ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.areas[region]
	if set == nil {
		set = make(map[string]bool)
		m.areas[region] = set
	}
	for _, z := range zips {
		set[strings.TrimSpace(z)] = true
	}
}

// stored strips session-only state and assigns a persisted id.
func stored(mem census.Member, persistedID string) census.Member {
	out := mem.Clone()
	out.Derive()
	if persistedID != "" {
		out.PersistedID = persistedID
	}
	if out.PersistedID == "" {
		out.PersistedID = uuid.NewString()
	}
	out.Edited = false
	out.Error = ""
	out.InvalidZip = false
	out.OutOfArea = false
	return out
}

// =============================================================================
// MEMBER SERVICE
// =============================================================================

func (m *Memory) LoadMembers(_ context.Context, censusID, _ string) (census.LoadResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.censuses[censusID]
	if !ok {
		return census.LoadResult{Headers: []census.Header{}, Members: []census.Member{}}, nil
	}
	return census.LoadResult{
		Headers: append([]census.Header(nil), data.headers...),
		Members: census.Census(data.members).Clone(),
	}, nil
}

// SaveMembers upserts by identifier. A dependent whose primary is neither
// stored nor in the batch is rejected with a per-record error; the rest of
// the batch is still saved.
func (m *Memory) SaveMembers(_ context.Context, censusID string, headers []census.Header, members []census.Member) (census.SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.censuses[censusID]
	if !ok {
		data = &censusData{}
		m.censuses[censusID] = data
	}
	if len(headers) > 0 {
		data.headers = append([]census.Header(nil), headers...)
	}

	primaries := make(map[string]bool)
	for _, mem := range data.members {
		if mem.IsPrimary {
			primaries[mem.Identifier] = true
		}
	}
	for _, mem := range members {
		mem.Derive()
		if mem.IsPrimary {
			primaries[mem.Identifier] = true
		}
	}

	var res census.SaveResult
	for _, mem := range members {
		mem.Derive()
		if !mem.IsPrimary && !primaries[mem.PrimaryIdentifier] {
			res.Errors = append(res.Errors, census.MemberError{
				Identifier: mem.Identifier,
				Error:      census.MsgPrimaryNotFound,
			})
			continue
		}
		if i := census.Census(data.members).Index(mem.Identifier); i >= 0 {
			data.members[i] = stored(mem, data.members[i].PersistedID)
			continue
		}
		data.members = append(data.members, stored(mem, ""))
	}
	res.AddPlanErrors = census.UnknownPlans(data.headers, "", members)
	return res, nil
}

func (m *Memory) DeleteMembers(_ context.Context, censusID string, _ []census.Header, persistedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.censuses[censusID]
	if !ok {
		return nil
	}
	data.members = census.PrunePersisted(data.members, persistedIDs)
	return nil
}

// =============================================================================
// SERVICE-AREA LOOKUP
// =============================================================================

// LookupServiceArea returns the requested zips serviceable in their region.
// An empty region matches any region.
func (m *Memory) LookupServiceArea(_ context.Context, requests []census.ZipRequest) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	seen := make(map[string]bool)
	for _, r := range requests {
		zip := strings.TrimSpace(r.PostalCode)
		if zip == "" || seen[zip] || !m.serviceableLocked(r.Region, zip) {
			continue
		}
		seen[zip] = true
		out = append(out, zip)
	}
	return out, nil
}

func (m *Memory) serviceableLocked(region, zip string) bool {
	if region != "" {
		return m.areas[region][zip]
	}
	for _, set := range m.areas {
		if set[zip] {
			return true
		}
	}
	return false
}

var (
	_ census.MemberService     = (*Memory)(nil)
	_ census.ServiceAreaLookup = (*Memory)(nil)
)
