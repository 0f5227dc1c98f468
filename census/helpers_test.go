package census

// =============================================================================
// TEST HELPERS
// =============================================================================

func employee(id, first, last, zip, dob string) Member {
	m := Member{
		Identifier:   id,
		Relationship: RelationshipEmployee,
		FirstName:    first,
		LastName:     last,
		PostalCode:   zip,
	}
	if dob != "" {
		m.BirthDate = MustParseDate(dob)
	}
	m.Derive()
	return m
}

func dependent(id, owner string, rel Relationship, dob string) Member {
	m := Member{
		Identifier:        id,
		PrimaryIdentifier: owner,
		Relationship:      rel,
	}
	if dob != "" {
		m.BirthDate = MustParseDate(dob)
	}
	m.Derive()
	return m
}

func persisted(m Member, pid string) Member {
	m.PersistedID = pid
	return m
}

func edited(m Member) Member {
	m.Edited = true
	return m
}

func intPtr(n int) *int { return &n }

func ids(c []Member) []string {
	out := make([]string, 0, len(c))
	for _, m := range c {
		out = append(out, m.Identifier)
	}
	return out
}
