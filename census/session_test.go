package census_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/census/mocks"
	"github.com/warp/census-engine/census/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCensusID = "census-1"

func testConfig() census.Config {
	return census.Config{
		CensusID:      testCensusID,
		Region:        "NY",
		EffectiveDate: census.MustParseDate("2024-01-01"),
		NewEnrollment: true,
	}
}

func newMockSession(t *testing.T, cfg census.Config, opts ...census.Option) (*census.Session, *mocks.MockMemberService) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockMemberService(ctrl)
	s, err := census.NewSession(cfg, svc, opts...)
	require.NoError(t, err)
	return s, svc
}

func primary(id, pid, last, zip string) census.Member {
	m := census.Member{
		Identifier:   id,
		PersistedID:  pid,
		Relationship: census.RelationshipEmployee,
		FirstName:    "First",
		LastName:     last,
		PostalCode:   zip,
		BirthDate:    census.MustParseDate("1980-01-01"),
	}
	m.Derive()
	return m
}

func child(id, pid, owner string) census.Member {
	m := census.Member{
		Identifier:        id,
		PersistedID:       pid,
		PrimaryIdentifier: owner,
		Relationship:      census.RelationshipChild,
		BirthDate:         census.MustParseDate("2015-01-01"),
	}
	m.Derive()
	return m
}

func loadResult(members ...census.Member) census.LoadResult {
	return census.LoadResult{Members: members}
}

func identifiers(c []census.Member) []string {
	out := make([]string, 0, len(c))
	for _, m := range c {
		out = append(out, m.Identifier)
	}
	return out
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestNewSession_ConfigurationErrors(t *testing.T) {
	cfg := testConfig()
	cfg.CensusID = ""
	_, err := census.NewSession(cfg, store.NewMemory())
	assert.ErrorIs(t, err, census.ErrMissingCensusID)
	assert.True(t, census.IsClientError(err))

	cfg = testConfig()
	cfg.EffectiveDate = census.Date{}
	_, err = census.NewSession(cfg, store.NewMemory())
	assert.ErrorIs(t, err, census.ErrMissingEffectiveDate)
}

// =============================================================================
// SAVE ORDERING
// =============================================================================

func TestSession_Import_DeletesThenSavesThenReloads(t *testing.T) {
	// GIVEN: A loaded census with one persisted employee
	// WHEN: A one-row file is imported
	// THEN: The old member is deleted, then the import saved, then the
	//       census reloaded, in that order

	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Old", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	var saved []census.Member
	gomock.InOrder(
		svc.EXPECT().DeleteMembers(gomock.Any(), testCensusID, gomock.Any(), []string{"pA"}).Return(nil),
		svc.EXPECT().SaveMembers(gomock.Any(), testCensusID, gomock.Any(), gomock.Len(1)).
			DoAndReturn(func(_ context.Context, _ string, _ []census.Header, ms []census.Member) (census.SaveResult, error) {
				saved = ms
				return census.SaveResult{}, nil
			}),
		svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
			DoAndReturn(func(context.Context, string, string) (census.LoadResult, error) {
				m := saved[0]
				m.PersistedID = "pZ"
				return loadResult(m), nil
			}),
	)

	res, err := s.Import(ctx, []census.Row{{Fields: census.Record{
		census.KeyRelationship: "employee",
		census.KeyFirstName:    "Zoe",
		census.KeyLastName:     "Zed",
		census.KeyPostalCode:   "10001",
		census.KeyBirthDate:    "1990-01-01",
	}}})

	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, 1, res.Members)

	c := s.Census()
	require.Len(t, c, 1)
	assert.Equal(t, "Zoe", c[0].FirstName)
	assert.Equal(t, "pZ", c[0].PersistedID)
	assert.False(t, c[0].Edited)
	assert.True(t, s.PendingChanges().IsEmpty())
}

func TestSession_Import_RowLimitRejectsBeforeProcessing(t *testing.T) {
	cfg := testConfig()
	cfg.UploadLimit = 1
	s, _ := newMockSession(t, cfg)

	_, err := s.Import(context.Background(), make([]census.Row, 2))

	var limitErr *census.RowLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, limitErr.Limit)
	assert.Empty(t, s.Census())
}

func TestSession_Import_InvalidRowsAreKeptUnsaved(t *testing.T) {
	// GIVEN: An import with an employee missing a last name
	// WHEN: Importing
	// THEN: No remote call, the record carries its error

	s, _ := newMockSession(t, testConfig())

	res, err := s.Import(context.Background(), []census.Row{{Fields: census.Record{
		census.KeyFirstName:  "Zoe",
		census.KeyPostalCode: "10001",
		census.KeyBirthDate:  "1990-01-01",
	}}})

	require.NoError(t, err)
	assert.False(t, res.Saved)
	require.NotNil(t, res.Validation)
	assert.Equal(t, census.MsgRequiredFieldsMissing, s.Census()[0].Error)
}

// =============================================================================
// SAVE
// =============================================================================

func TestSession_Save_BlockedByValidation(t *testing.T) {
	// GIVEN: A loaded census plus a blank new employee
	// WHEN: Saving
	// THEN: No remote call is made and the blank record gets an error

	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Ann", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	added := s.AddEmployee()
	_, err := s.Save(ctx)

	var invalid *census.CensusValidationError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, census.ErrCensusInvalid)
	require.Len(t, invalid.Failures, 1)
	assert.Equal(t, added.Identifier, invalid.Failures[0].Identifier)

	m, ok := s.Census().Find(added.Identifier)
	require.True(t, ok)
	assert.Equal(t, census.MsgDOBAndRelationshipRequired, m.Error)
	assert.False(t, s.IsCensusValid())
}

func TestSession_Save_RemoteFailureLeavesCensusUnchanged(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Ann", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	m, _ := s.Census().Find("A")
	m.LastName = "Changed"
	_, err := s.OnUpdate(m)
	require.NoError(t, err)

	svc.EXPECT().SaveMembers(gomock.Any(), testCensusID, gomock.Any(), gomock.Len(1)).
		Return(census.SaveResult{}, errors.New("service unavailable"))

	_, err = s.Save(ctx)

	var remote *census.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, census.OpSaveMembers, remote.Op)
	assert.Equal(t, "service unavailable", remote.Message())
	assert.True(t, census.IsRemote(err))

	after, _ := s.Census().Find("A")
	assert.Equal(t, "Changed", after.LastName)
	assert.True(t, after.Edited)
	assert.Len(t, s.PendingChanges().ToUpsert, 1, "the edit is still pending")
}

func TestSession_Save_MergesServerErrors(t *testing.T) {
	// GIVEN: Two edited employees
	// WHEN: The server rejects one of them
	// THEN: Its error is attached, the other is saved and clean

	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Ann", "10001"), primary("B", "pB", "Bob", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	for _, id := range []string{"A", "B"} {
		m, _ := s.Census().Find(id)
		m.FirstName = "Edited"
		_, err := s.OnUpdate(m)
		require.NoError(t, err)
	}

	gomock.InOrder(
		svc.EXPECT().SaveMembers(gomock.Any(), testCensusID, gomock.Any(), gomock.Len(2)).
			Return(census.SaveResult{Errors: []census.MemberError{{Identifier: "B", Error: "Duplicate member"}}}, nil),
		svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
			Return(loadResult(primary("A", "pA", "Ann", "10001"), primary("B", "pB", "Bob", "10001")), nil),
	)

	res, err := s.Save(ctx)

	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	a, _ := s.Census().Find("A")
	b, _ := s.Census().Find("B")
	assert.Empty(t, a.Error)
	assert.Equal(t, "Duplicate member", b.Error)
}

func TestSession_Save_NothingPending(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Ann", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	_, err := s.Save(ctx)

	assert.NoError(t, err)
}

// =============================================================================
// DELETE
// =============================================================================

func TestSession_OnDelete_UnpersistedIssuesNoRemoteCall(t *testing.T) {
	// GIVEN: A new employee with a dependent, never saved
	// WHEN: Deleting the employee
	// THEN: Both are removed locally; the mock fails on any remote call

	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("A", "pA", "Ann", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	e := s.AddEmployee()
	_, err := s.OnNewDependent(e.Identifier)
	require.NoError(t, err)
	require.Len(t, s.Census(), 3)

	require.NoError(t, s.OnDelete(ctx, e.Identifier))

	assert.Equal(t, []string{"A"}, identifiers(s.Census()))
}

func TestSession_OnDelete_CascadesAndReloads(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(
			primary("E", "pE", "Eve", "10001"),
			child("K", "pK", "E"),
			primary("F", "pF", "Fay", "10001"),
		), nil)
	require.NoError(t, s.Load(ctx))

	gomock.InOrder(
		svc.EXPECT().DeleteMembers(gomock.Any(), testCensusID, gomock.Any(), []string{"pE", "pK"}).Return(nil),
		svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
			Return(loadResult(primary("F", "pF", "Fay", "10001")), nil),
	)

	require.NoError(t, s.OnDelete(ctx, "E"))

	assert.Equal(t, []string{"F"}, identifiers(s.Census()))
	assert.Equal(t, 1, s.Summary().EmployeeCount)
	assert.True(t, s.PendingChanges().IsEmpty())
}

func TestSession_OnDelete_RemoteFailure(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	ctx := context.Background()
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("E", "pE", "Eve", "10001")), nil)
	require.NoError(t, s.Load(ctx))

	svc.EXPECT().DeleteMembers(gomock.Any(), testCensusID, gomock.Any(), []string{"pE"}).
		Return(errors.New("timeout"))

	err := s.OnDelete(ctx, "E")

	assert.True(t, census.IsRemote(err))
	assert.Equal(t, []string{"E"}, identifiers(s.Census()))
}

func TestSession_OnDelete_UnknownMember(t *testing.T) {
	s, _ := newMockSession(t, testConfig())

	err := s.OnDelete(context.Background(), "ghost")

	assert.True(t, census.IsNotFound(err))
}

// =============================================================================
// EDITS
// =============================================================================

func TestSession_OnUpdate_ClearingBirthDateClearsAge(t *testing.T) {
	// GIVEN: An existing-group member with both birth date and declared age
	// WHEN: The birth date is cleared
	// THEN: The declared age is cleared too and the record fails validation

	cfg := testConfig()
	cfg.NewEnrollment = false
	s, svc := newMockSession(t, cfg)
	a := primary("A", "pA", "Ann", "10001")
	age := 44
	a.DeclaredAge = &age
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").Return(loadResult(a), nil)
	require.NoError(t, s.Load(context.Background()))

	m, _ := s.Census().Find("A")
	m.BirthDate = census.Date{}
	updated, err := s.OnUpdate(m)

	require.NoError(t, err)
	assert.Nil(t, updated.DeclaredAge)
	assert.Equal(t, census.MsgDOBOrRelationshipRequired, updated.Error)
	assert.True(t, updated.Edited)
}

func TestSession_OnUpdate_RederivesFlagsAndKeepsPersistedID(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("E", "pE", "Eve", "10001"), child("K", "pK", "E")), nil)
	require.NoError(t, s.Load(context.Background()))

	k, _ := s.Census().Find("K")
	k.Relationship = census.RelationshipSpouse
	k.PersistedID = "forged"
	k.IsPrimary = true
	updated, err := s.OnUpdate(k)

	require.NoError(t, err)
	assert.Equal(t, "pK", updated.PersistedID)
	assert.False(t, updated.IsPrimary)
	assert.True(t, updated.IsSpouseOrPartner)
	assert.Equal(t, 1, s.Summary().EmployeeSpouse)
}

func TestSession_OnNewDependent_RequiresPrimary(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("E", "pE", "Eve", "10001"), child("K", "pK", "E")), nil)
	require.NoError(t, s.Load(context.Background()))

	_, err := s.OnNewDependent("K")
	assert.ErrorIs(t, err, census.ErrNotPrimary)

	_, err = s.OnNewDependent("ghost")
	assert.ErrorIs(t, err, census.ErrMemberNotFound)

	d, err := s.OnNewDependent("E")
	require.NoError(t, err)
	assert.Equal(t, "E", d.PrimaryIdentifier)
	assert.True(t, d.Edited)
}

func TestSession_OnSelect_Toggles(t *testing.T) {
	s, svc := newMockSession(t, testConfig())
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("E", "pE", "Eve", "10001")), nil)
	require.NoError(t, s.Load(context.Background()))

	on, err := s.OnSelect("E")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "E", s.Selected())

	on, _ = s.OnSelect("E")
	assert.False(t, on)
	assert.Empty(t, s.Selected())
}

// =============================================================================
// PAGINATION
// =============================================================================

func TestSession_Pagination(t *testing.T) {
	// GIVEN: Five households, two per page
	// WHEN: Paging past the end and deleting from the last page
	// THEN: The page index is clamped

	cfg := testConfig()
	cfg.PageSize = 2
	s, svc := newMockSession(t, cfg)
	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(
			primary("e1", "", "Eve", "10001"),
			primary("e2", "", "Dan", "10001"),
			primary("e3", "", "Cat", "10001"),
			primary("e4", "", "Bob", "10001"),
			primary("e5", "", "Ann", "10001"),
		), nil)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 3, s.PageCount())
	assert.Equal(t, 2, s.SetPage(10))
	assert.Len(t, s.Page(2, 0), 1)
	assert.Empty(t, s.Page(3, 0))

	require.NoError(t, s.OnDelete(context.Background(), "e5"))
	assert.Equal(t, 1, s.CurrentPage(), "emptied page is clamped")

	s.SetSort(census.SortLastName)
	page := s.Page(0, 0)
	assert.Equal(t, []string{"e4", "e3"}, []string{page[0].Employee.Identifier, page[1].Employee.Identifier})

	s.AddEmployee()
	assert.Equal(t, 2, s.CurrentPage(), "adding moves to the last page")
}

// =============================================================================
// SERVICE AREA
// =============================================================================

func TestSession_ServiceAreaLookupAfterLoad(t *testing.T) {
	// GIVEN: Three employees, one in an unserviceable zip
	// WHEN: The census loads and the background lookup completes
	// THEN: The out-of-area employee is listed and 1/3 satisfies the rule

	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockServiceAreaLookup(ctrl)
	s, svc := newMockSession(t, testConfig(), census.WithServiceAreaLookup(lookup))

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(
			primary("a", "pa", "A", "10001"),
			primary("b", "pb", "B", "10001"),
			primary("c", "pc", "C", "99999"),
		), nil)
	lookup.EXPECT().LookupServiceArea(gomock.Any(), []census.ZipRequest{
		{PostalCode: "10001", Region: "NY"},
		{PostalCode: "99999", Region: "NY"},
	}).Return([]string{"10001"}, nil)

	require.NoError(t, s.Load(context.Background()))
	s.Wait()

	assert.True(t, s.IsOutOfAreaRuleSatisfied())
	assert.Equal(t, []string{"c"}, identifiers(s.OutOfAreaMembers()))
	assert.True(t, s.CanProceed())
}

func TestSession_OutOfAreaRatioInvalidatesCensus(t *testing.T) {
	// GIVEN: Five valid employees, three outside the service area
	// WHEN: The lookup completes
	// THEN: 3/5 breaks the rule and the census is not valid

	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockServiceAreaLookup(ctrl)
	s, svc := newMockSession(t, testConfig(), census.WithServiceAreaLookup(lookup))

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(
			primary("a", "pa", "A", "10001"),
			primary("b", "pb", "B", "10002"),
			primary("c", "pc", "C", "99997"),
			primary("d", "pd", "D", "99998"),
			primary("e", "pe", "E", "99999"),
		), nil)
	lookup.EXPECT().LookupServiceArea(gomock.Any(), gomock.Any()).Return([]string{"10001", "10002"}, nil)

	require.NoError(t, s.Load(context.Background()))
	s.Wait()

	assert.Equal(t, "0.6", s.OutOfAreaRatio().String())
	assert.False(t, s.IsOutOfAreaRuleSatisfied())
	assert.False(t, s.IsCensusValid())
	assert.False(t, s.CanProceed())
}

func TestSession_OutOfAreaRatioIgnoredForExistingGroups(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockServiceAreaLookup(ctrl)
	cfg := testConfig()
	cfg.NewEnrollment = false
	s, svc := newMockSession(t, cfg, census.WithServiceAreaLookup(lookup))

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(
			primary("a", "pa", "A", "99998"),
			primary("b", "pb", "B", "99999"),
		), nil)
	lookup.EXPECT().LookupServiceArea(gomock.Any(), gomock.Any()).Return(nil, nil)

	require.NoError(t, s.Load(context.Background()))
	s.Wait()

	assert.Len(t, s.OutOfAreaMembers(), 2)
	assert.True(t, s.IsCensusValid())
}

func TestSession_CloseStopsNewLookups(t *testing.T) {
	// GIVEN: A loaded session whose only zip has been checked
	// WHEN: It is closed and an edit introduces a new zip
	// THEN: No lookup starts and Wait returns at once

	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockServiceAreaLookup(ctrl)
	s, svc := newMockSession(t, testConfig(), census.WithServiceAreaLookup(lookup))

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("a", "pa", "A", "10001")), nil)
	lookup.EXPECT().LookupServiceArea(gomock.Any(), gomock.Any()).Return([]string{"10001"}, nil).Times(1)

	require.NoError(t, s.Load(context.Background()))
	s.Close()

	m, ok := s.Census().Find("a")
	require.True(t, ok)
	m.PostalCode = "10002"
	_, err := s.OnUpdate(m)
	require.NoError(t, err)

	_, open := <-s.RefreshServiceArea(context.Background())
	assert.False(t, open)
	s.Wait()
}

func TestSession_ServiceAreaLookupFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockServiceAreaLookup(ctrl)
	s, svc := newMockSession(t, testConfig(), census.WithServiceAreaLookup(lookup))

	var mu sync.Mutex
	var events []census.Event
	s.Subscribe(func(e census.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	svc.EXPECT().LoadMembers(gomock.Any(), testCensusID, "").
		Return(loadResult(primary("a", "pa", "A", "10001")), nil)
	lookup.EXPECT().LookupServiceArea(gomock.Any(), gomock.Any()).Return(nil, errors.New("lookup down"))

	require.NoError(t, s.Load(context.Background()))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, census.EventLoaded, events[0].Kind)
	assert.Equal(t, census.EventError, events[1].Kind)
	var remote *census.RemoteError
	require.ErrorAs(t, events[1].Err, &remote)
	assert.Equal(t, census.OpLookupServiceArea, remote.Op)
}

// =============================================================================
// END TO END WITH THE MEMORY STORE
// =============================================================================

func TestSession_MemoryStore_RoundTrip(t *testing.T) {
	// GIVEN: An empty census in the memory store
	// WHEN: An employee and a spouse are added, filled in and saved
	// THEN: Both get persisted ids and nothing is pending

	mem := store.NewMemory()
	mem.AddServiceArea("NY", "10001")
	s, err := census.NewSession(testConfig(), mem, census.WithServiceAreaLookup(mem))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx))

	e := s.AddEmployee()
	e.FirstName, e.LastName, e.PostalCode = "Eve", "Adams", "10001"
	e.BirthDate = census.MustParseDate("1985-04-12")
	_, err = s.OnUpdate(e)
	require.NoError(t, err)

	sp, err := s.OnNewDependent(e.Identifier)
	require.NoError(t, err)
	sp.Relationship = census.RelationshipSpouse
	sp.BirthDate = census.MustParseDate("1986-02-01")
	_, err = s.OnUpdate(sp)
	require.NoError(t, err)
	s.Wait()

	_, err = s.Save(ctx)
	require.NoError(t, err)

	c := s.Census()
	require.Len(t, c, 2)
	for _, m := range c {
		assert.NotEmpty(t, m.PersistedID)
		assert.False(t, m.Edited)
	}
	assert.True(t, s.PendingChanges().IsEmpty())
	assert.Equal(t, 1, s.Summary().EmployeeSpouse)
	assert.True(t, s.CanProceed())
}
