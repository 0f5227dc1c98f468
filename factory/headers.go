/*
Package factory provides JSON to Go header catalogue conversion.

PURPOSE:
  Converts JSON field definitions into census.Header values. This enables
  census layout configuration without code changes - the fields a census
  collects, their types and the enrollment-plan options can be defined in
  JSON and stored alongside the census.

JSON SCHEMA:
  [
    {"name": "first_name", "label": "First Name", "type": "text", "required": true},
    {"name": "birth_date", "label": "Date of Birth", "type": "date"},
    {
      "name": "plans",
      "label": "Plans",
      "type": "picklist",
      "options": [
        {"type": "Medical", "name": "Gold PPO", "value": "med-gold"}
      ]
    }
  ]

KEY FEATURES:
  - Type tags are case-insensitive; unknown tags fall back to TEXT
  - Duplicate or empty names are rejected
  - Labels default to the field name
  - System headers (identifiers) are prepended before a catalogue is saved

USAGE:
  f := factory.NewHeaderFactory()
  headers, err := f.ParseHeaders(jsonString)

  // Preset catalogue
  headers, err := f.ParseHeaders(factory.DefaultHeadersJSON)

  // Before SaveMembers
  store.SaveMembers(ctx, censusID, factory.WithSystemHeaders(headers), members)

SEE ALSO:
  - census/service.go: Header type definition
  - census/fields.go: Canonical field names
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/census-engine/census"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// HeaderJSON is the JSON representation of a census field.
type HeaderJSON struct {
	Name     string       `json:"name"`
	Label    string       `json:"label,omitempty"`
	Type     string       `json:"type,omitempty"` // text, date, datetime, number, boolean, picklist
	Required bool         `json:"required,omitempty"`
	Options  []OptionJSON `json:"options,omitempty"`
}

// OptionJSON represents one enrollment-plan option.
type OptionJSON struct {
	Type  string `json:"type"`  // plan category, e.g. "Medical"
	Name  string `json:"name"`  // label shown in the import column
	Value string `json:"value"` // plan identifier
}

// =============================================================================
// HEADER FACTORY
// =============================================================================

// HeaderFactory converts JSON field definitions to census headers.
type HeaderFactory struct{}

// NewHeaderFactory creates a new header factory.
func NewHeaderFactory() *HeaderFactory {
	return &HeaderFactory{}
}

// ParseHeaders parses a JSON array of field definitions.
func (f *HeaderFactory) ParseHeaders(jsonStr string) ([]census.Header, error) {
	var hj []HeaderJSON
	if err := json.Unmarshal([]byte(jsonStr), &hj); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return f.FromJSON(hj)
}

// FromJSON converts HeaderJSON values to census headers.
func (f *HeaderFactory) FromJSON(hj []HeaderJSON) ([]census.Header, error) {
	seen := make(map[string]bool, len(hj))
	headers := make([]census.Header, 0, len(hj))
	for i, h := range hj {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return nil, fmt.Errorf("header %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate header: %s", name)
		}
		seen[name] = true

		label := h.Label
		if label == "" {
			label = name
		}
		header := census.Header{
			Name:     name,
			Label:    label,
			Type:     parseHeaderType(h.Type),
			Required: h.Required,
		}
		for _, o := range h.Options {
			if o.Value == "" {
				return nil, fmt.Errorf("header %s: option %q has no value", name, o.Name)
			}
			header.Options = append(header.Options, census.PlanOption{
				Type:  o.Type,
				Name:  o.Name,
				Value: o.Value,
			})
		}
		headers = append(headers, header)
	}
	return headers, nil
}

// ToJSON converts census headers to HeaderJSON values.
func (f *HeaderFactory) ToJSON(headers []census.Header) []HeaderJSON {
	out := make([]HeaderJSON, 0, len(headers))
	for _, h := range headers {
		hj := HeaderJSON{
			Name:     h.Name,
			Label:    h.Label,
			Type:     strings.ToLower(string(h.Type)),
			Required: h.Required,
		}
		for _, o := range h.Options {
			hj.Options = append(hj.Options, OptionJSON(o))
		}
		out = append(out, hj)
	}
	return out
}

func parseHeaderType(s string) census.HeaderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "date":
		return census.HeaderDate
	case "datetime":
		return census.HeaderDateTime
	case "number":
		return census.HeaderNumber
	case "boolean":
		return census.HeaderBoolean
	case "picklist":
		return census.HeaderPicklist
	default:
		return census.HeaderText
	}
}

// =============================================================================
// SYSTEM HEADERS
// =============================================================================

// SystemHeaders identify members and their household. The member service
// needs them on every save even though they are never shown.
func SystemHeaders() []census.Header {
	return []census.Header{
		{Name: census.KeyPrimaryIdentifier, Label: "Primary Member Identifier", Type: census.HeaderText},
		{Name: census.KeyIdentifier, Label: "Member Identifier", Type: census.HeaderText},
		{Name: census.KeyPersistedID, Label: "Related Census Member", Type: census.HeaderText},
	}
}

// WithSystemHeaders prepends the system headers that headers lacks.
func WithSystemHeaders(headers []census.Header) []census.Header {
	out := make([]census.Header, 0, len(headers)+3)
	for _, h := range SystemHeaders() {
		if _, ok := census.FindHeader(headers, h.Name); !ok {
			out = append(out, h)
		}
	}
	return append(out, headers...)
}

// =============================================================================
// PRESET CATALOGUE
// =============================================================================

// DefaultHeadersJSON is the catalogue used when a census has none.
const DefaultHeadersJSON = `[
  {"name": "relationship", "label": "Relationship", "type": "picklist", "required": true},
  {"name": "first_name", "label": "First Name", "type": "text", "required": true},
  {"name": "last_name", "label": "Last Name", "type": "text", "required": true},
  {"name": "birth_date", "label": "Date of Birth", "type": "date", "required": true},
  {"name": "age", "label": "Age", "type": "number"},
  {"name": "postal_code", "label": "Zip Code", "type": "text", "required": true},
  {"name": "physical_presence", "label": "Physical Presence", "type": "boolean"},
  {
    "name": "plans",
    "label": "Plans",
    "type": "picklist",
    "options": [
      {"type": "Medical", "name": "Gold PPO", "value": "med-gold-ppo"},
      {"type": "Medical", "name": "Silver HMO", "value": "med-silver-hmo"},
      {"type": "Dental", "name": "Dental Basic", "value": "den-basic"},
      {"type": "Vision", "name": "Vision Plus", "value": "vis-plus"}
    ]
  }
]`

// DefaultHeaders parses DefaultHeadersJSON.
func DefaultHeaders() []census.Header {
	headers, err := NewHeaderFactory().ParseHeaders(DefaultHeadersJSON)
	if err != nil {
		panic(fmt.Sprintf("factory: invalid default headers: %v", err))
	}
	return headers
}
