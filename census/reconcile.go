package census

// =============================================================================
// CHANGE-SET RECONCILER
// =============================================================================
//
// Persisted state is only ever learned from the member service. Local edits
// are turned into a ChangeSet, sent, and then the census is reloaded and
// merged; the merged result replaces both the working census and the
// persisted snapshot.

// Diff compares the working census with the last persisted snapshot.
// Members of prior that are gone from current and carry a PersistedID are
// deleted; every Edited member of current is upserted.
func Diff(prior, current Census) ChangeSet {
	present := make(map[string]bool, len(current))
	for _, m := range current {
		present[m.Identifier] = true
	}

	var cs ChangeSet
	for _, m := range prior {
		if !present[m.Identifier] && m.Persisted() {
			cs.ToDelete = append(cs.ToDelete, m.PersistedID)
		}
	}
	for _, m := range current {
		if m.Edited {
			cs.ToUpsert = append(cs.ToUpsert, m.Clone())
		}
	}
	return cs
}

// MergeLoaded folds a fresh load into the working census. Fetched records
// replace local ones with the same identifier and arrive unedited; local
// records the server does not know are kept; records only on the server
// are appended in server order.
func MergeLoaded(current Census, fetched []Member) Census {
	byID := make(map[string]Member, len(fetched))
	for _, m := range fetched {
		byID[m.Identifier] = m
	}

	out := make(Census, 0, len(current)+len(fetched))
	used := make(map[string]bool, len(fetched))
	for _, m := range current {
		if f, ok := byID[m.Identifier]; ok {
			out = append(out, loaded(f))
			used[m.Identifier] = true
			continue
		}
		out = append(out, m.Clone())
	}
	for _, m := range fetched {
		if !used[m.Identifier] {
			out = append(out, loaded(m))
			used[m.Identifier] = true
		}
	}
	return out
}

func loaded(m Member) Member {
	out := m.Clone()
	out.Derive()
	out.Edited = false
	return out
}

// ApplySaveErrors clears every record's error, then attaches the server's
// per-identifier errors. Unknown identifiers are ignored.
func ApplySaveErrors(c Census, errs []MemberError) Census {
	byID := make(map[string]string, len(errs))
	for _, e := range errs {
		byID[e.Identifier] = e.Error
	}
	out := c.Clone()
	for i := range out {
		out[i].Error = byID[out[i].Identifier]
	}
	return out
}

// ExpandWithDependents returns ids plus the identifiers of every dependent
// owned by a primary in ids. Order follows the census; unknown ids are
// dropped.
func ExpandWithDependents(c Census, ids []string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	owners := make(map[string]bool)
	for _, m := range c {
		if want[m.Identifier] && m.IsPrimary {
			owners[m.Identifier] = true
		}
	}
	var out []string
	for _, m := range c {
		if want[m.Identifier] || (!m.IsPrimary && owners[m.PrimaryIdentifier]) {
			out = append(out, m.Identifier)
		}
	}
	return out
}

// RemoveIdentifiers returns c without the given members.
func RemoveIdentifiers(c Census, ids []string) Census {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make(Census, 0, len(c))
	for _, m := range c {
		if !drop[m.Identifier] {
			out = append(out, m.Clone())
		}
	}
	return out
}

// PersistedIDs returns the persisted ids of the given members. Members that
// were never saved contribute nothing.
func PersistedIDs(c Census, ids []string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []string
	for _, m := range c {
		if want[m.Identifier] && m.Persisted() {
			out = append(out, m.PersistedID)
		}
	}
	return out
}

// PrunePersisted drops members whose persisted id is in deleted.
func PrunePersisted(c Census, deleted []string) Census {
	drop := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		drop[id] = true
	}
	out := make(Census, 0, len(c))
	for _, m := range c {
		if !m.Persisted() || !drop[m.PersistedID] {
			out = append(out, m.Clone())
		}
	}
	return out
}
