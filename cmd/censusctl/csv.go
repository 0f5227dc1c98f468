package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/warp/census-engine/census"
)

// readRows converts a CSV with a header line into import rows. Columns
// whose name matches a plan category of the catalogue become plan
// selections; every other column is a member field.
func readRows(r io.Reader, catalogue []census.PlanOption) ([]census.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	categories := make(map[string]string)
	for _, opt := range catalogue {
		categories[strings.ToLower(opt.Type)] = opt.Type
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []census.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}

		row := census.Row{Fields: census.Record{}}
		for i, cell := range rec {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if category, ok := categories[strings.ToLower(columns[i])]; ok {
				if cell != "" {
					row.Plans = append(row.Plans, census.PlanSelection{Header: category, Value: cell})
				}
				continue
			}
			row.Fields[columns[i]] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
