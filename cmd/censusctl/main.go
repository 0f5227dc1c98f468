/*
main.go - censusctl entry point

PURPOSE:
  Offline companion to the server for spreadsheet exports:
  - validate: run the member and census rules over a CSV
  - import:   replace a census in a SQLite database with a CSV
  - headers:  print the default header set

EXAMPLES:
  censusctl validate members.csv --effective-date=2027-01-01 --new-enrollment
  censusctl import members.csv --db=census.db --census=acme \
      --region=CA --effective-date=2027-01-01 --zip=94107 --zip=94110

SEE ALSO:
  - census/importer.go: Row normalization
  - census/validator.go: Member rules
*/
package main

import (
	"errors"
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			log.Printf("Error: %v", err)
		}
		os.Exit(1)
	}
}
