/*
importer.go - Bulk import of flat spreadsheet rows

PURPOSE:
  Converts an ordered sequence of flat rows into census members. Source
  files usually carry no foreign identifiers, so household linkage is
  inferred from row order: each Employee row opens a household and the
  dependent rows after it belong to that employee.

CURSOR RULES:
  - An Employee row becomes the cursor.
  - A dependent row binds to the cursor.
  - Dependent rows seen before any employee are held in an orphan batch and
    bound to the first employee that appears.
  - A row that names its primary explicitly keeps that link.

  Example:
    Spouse   (no id)  -> held
    Employee E1       -> cursor = E1, held spouse bound to E1
    Child             -> bound to E1
    Employee E2       -> cursor = E2

NORMALIZATION:
  - Relationship labels: case-insensitive match to the enumerated values
  - Date columns: shifted by a fixed offset, formatted YYYY-MM-DD
  - Plan selections: (column, label) matched to catalogue (type, name),
    collected as plan identifiers

SEE ALSO:
  - fields.go: Record field names
  - date.go: NormalizeImportDate
  - session.go: Import replaces the census and saves it
*/
package census

import (
	"strings"

	"github.com/google/uuid"
)

// PlanSelection is one plan cell of an import row.
type PlanSelection struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// Row is one flat import row.
type Row struct {
	Fields Record          `json:"fields"`
	Plans  []PlanSelection `json:"plans,omitempty"`
}

// Normalizer converts import rows into members.
type Normalizer struct {
	Headers []Header
	// PlanHeader names the header whose options form the plan catalogue.
	PlanHeader string
	// RowLimit rejects larger imports before any row is processed. Zero
	// disables the check.
	RowLimit int
	// NewID generates member identifiers. Defaults to random UUIDs.
	NewID func() string
}

func (n Normalizer) newID() string {
	if n.NewID != nil {
		return n.NewID()
	}
	return uuid.NewString()
}

func (n Normalizer) planCatalogue() []PlanOption {
	name := n.PlanHeader
	if name == "" {
		name = KeyPlans
	}
	h, _ := FindHeader(n.Headers, name)
	return h.Options
}

// CheckLimit returns a *RowLimitError when rows exceeds the limit.
func (n Normalizer) CheckLimit(rows int) error {
	if n.RowLimit > 0 && rows > n.RowLimit {
		return &RowLimitError{Limit: n.RowLimit, Rows: rows}
	}
	return nil
}

// Normalize converts rows into a new census in row order. Every member is
// marked Edited so the whole import is saved.
func (n Normalizer) Normalize(rows []Row) (Census, error) {
	if err := n.CheckLimit(len(rows)); err != nil {
		return nil, err
	}

	catalogue := n.planCatalogue()
	out := make(Census, 0, len(rows))
	cursor := ""
	var held []int

	for _, row := range rows {
		m := n.seed()
		ApplyRecord(&m, n.rowFields(row.Fields))
		explicit := strings.TrimSpace(row.Fields[KeyPrimaryIdentifier]) != ""

		if m.Relationship != "" {
			m.Derive()
			if m.Relationship.IsPrimary() {
				cursor = m.Identifier
			} else {
				if !m.Relationship.Valid() {
					// Unknown labels are imported as dependents; the
					// validator reports the relationship.
					m.IsPrimary = false
					m.IsSpouseOrPartner = false
				}
				if !explicit {
					m.PrimaryIdentifier = cursor
				}
			}
			if cursor == "" {
				if !explicit {
					held = append(held, len(out))
				}
			} else {
				for _, i := range held {
					out[i].PrimaryIdentifier = cursor
				}
				held = held[:0]
			}
		}

		if len(row.Plans) > 0 {
			m.PlanIDs = resolvePlans(row.Plans, catalogue)
		}
		out = append(out, m)
	}
	return out, nil
}

// seed is a fresh primary member, the starting point every row overlays.
func (n Normalizer) seed() Member {
	id := n.newID()
	return Member{
		Identifier:        id,
		PrimaryIdentifier: id,
		IsPrimary:         true,
		Relationship:      RelationshipEmployee,
		Edited:            true,
	}
}

// rowFields copies a row's fields with dates normalized. A persisted id in
// the row is dropped: only a load sets it.
func (n Normalizer) rowFields(fields Record) Record {
	out := make(Record, len(fields))
	for k, v := range fields {
		if k == KeyPersistedID {
			continue
		}
		out[k] = v
	}
	for k, v := range out {
		if !n.isDateField(k) {
			continue
		}
		if d, ok := NormalizeImportDate(v); ok {
			out[k] = d
		} else {
			out[k] = ""
		}
	}
	return out
}

func (n Normalizer) isDateField(name string) bool {
	if name == KeyBirthDate {
		return true
	}
	h, ok := FindHeader(n.Headers, name)
	return ok && h.Type.IsDate()
}

func resolvePlans(selected []PlanSelection, catalogue []PlanOption) []string {
	var ids []string
	for _, sel := range selected {
		for _, opt := range catalogue {
			if opt.Type == sel.Header && opt.Name == sel.Value {
				ids = append(ids, opt.Value)
				break
			}
		}
	}
	return ids
}
