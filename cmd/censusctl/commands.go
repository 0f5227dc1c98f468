package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/census-engine/census"
	"github.com/warp/census-engine/factory"
	"github.com/warp/census-engine/store/sqlite"
)

// errInvalid is returned after the failures have been printed so the
// process exits non-zero without repeating them.
var errInvalid = errors.New("census is invalid")

// --- Shared flags ---
var (
	effectiveDate string
	newEnrollment bool
	headersPath   string
	planHeader    string
	rowLimit      int

	dbPath     string
	censusID   string
	censusName string
	region     string
	zips       []string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "censusctl",
		Short:         "Validate and import employee census files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file.csv]",
		Short: "Check a census CSV against the eligibility rules without saving it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	addRuleFlags(validateCmd)

	importCmd := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Replace a stored census with the rows of a CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	addRuleFlags(importCmd)
	importCmd.Flags().StringVar(&dbPath, "db", "census.db", "SQLite database path")
	importCmd.Flags().StringVar(&censusID, "census", "", "Census id, created when missing")
	importCmd.Flags().StringVar(&censusName, "name", "", "Census name for a new census")
	importCmd.Flags().StringVar(&region, "region", "", "Service area region")
	importCmd.Flags().StringSliceVar(&zips, "zip", nil, "Postal codes to add to the region's service area")
	_ = importCmd.MarkFlagRequired("census")

	headersCmd := &cobra.Command{
		Use:   "headers",
		Short: "Print the default census headers as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(factory.NewHeaderFactory().ToJSON(factory.DefaultHeaders()))
		},
	}

	root.AddCommand(validateCmd, importCmd, headersCmd)
	return root
}

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&effectiveDate, "effective-date", "", "Coverage effective date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&newEnrollment, "new-enrollment", false, "Apply new enrollment rules")
	cmd.Flags().StringVar(&headersPath, "headers", "", "JSON file with census headers (defaults to the built-in set)")
	cmd.Flags().StringVar(&planHeader, "plan-header", census.KeyPlans, "Header holding the plan catalogue")
	cmd.Flags().IntVar(&rowLimit, "limit", 0, "Maximum rows to accept (0 disables)")
	_ = cmd.MarkFlagRequired("effective-date")
}

func loadHeaders() ([]census.Header, error) {
	if headersPath == "" {
		return factory.DefaultHeaders(), nil
	}
	data, err := os.ReadFile(headersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	return factory.NewHeaderFactory().ParseHeaders(string(data))
}

func readFile(path string, headers []census.Header) ([]census.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	planHeaderDef, _ := census.FindHeader(headers, planHeader)
	return readRows(f, planHeaderDef.Options)
}

func parseEffectiveDate() (census.Date, error) {
	d, ok := census.ParseDate(effectiveDate)
	if !ok {
		return census.Date{}, fmt.Errorf("invalid effective date %q (use YYYY-MM-DD)", effectiveDate)
	}
	return d, nil
}

// =============================================================================
// VALIDATE
// =============================================================================

func runValidate(cmd *cobra.Command, args []string) error {
	effective, err := parseEffectiveDate()
	if err != nil {
		return err
	}
	headers, err := loadHeaders()
	if err != nil {
		return err
	}
	rows, err := readFile(args[0], headers)
	if err != nil {
		return err
	}

	n := census.Normalizer{Headers: headers, PlanHeader: planHeader, RowLimit: rowLimit}
	members, err := n.Normalize(rows)
	if err != nil {
		return err
	}

	v := census.Validator{EffectiveDate: effective, NewEnrollment: newEnrollment}
	validated, _ := v.ValidateAll(members)
	view := census.BuildHierarchy(validated)

	out := cmd.OutOrStdout()
	printSummary(out, view.Summary)
	if check := v.CheckCensus(validated, view); check != nil {
		printValidation(out, validated, check)
		return errInvalid
	}
	fmt.Fprintln(out, "Census is valid")
	return nil
}

// =============================================================================
// IMPORT
// =============================================================================

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	effective, err := parseEffectiveDate()
	if err != nil {
		return err
	}
	headers, err := loadHeaders()
	if err != nil {
		return err
	}
	rows, err := readFile(args[0], headers)
	if err != nil {
		return err
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	rec, err := ensureCensus(ctx, store, effective, headers)
	if err != nil {
		return err
	}
	if len(zips) > 0 {
		if err := store.AddServiceArea(ctx, rec.Region, zips...); err != nil {
			return err
		}
	}

	s, err := census.NewSession(census.Config{
		CensusID:      rec.ID,
		Region:        rec.Region,
		EffectiveDate: rec.EffectiveDate,
		NewEnrollment: rec.NewEnrollment,
		UploadLimit:   rowLimit,
		PlanHeader:    planHeader,
	}, store, census.WithServiceAreaLookup(store))
	if err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		return err
	}

	res, err := s.Import(ctx, rows)
	if err != nil {
		return err
	}
	s.Wait()

	out := cmd.OutOrStdout()
	printSummary(out, s.Summary())
	if res.Validation != nil {
		printValidation(out, s.Census(), res.Validation)
		return errInvalid
	}
	if res.Save.AddPlanErrors != "" {
		fmt.Fprintf(out, "Unknown plans: %s\n", res.Save.AddPlanErrors)
	}
	fmt.Fprintf(out, "Imported %d members into %s\n", res.Members, rec.ID)
	if !s.IsOutOfAreaRuleSatisfied() {
		fmt.Fprintf(out, "Warning: %s of members are outside the service area\n", s.OutOfAreaRatio().StringFixed(2))
	}
	return nil
}

func ensureCensus(ctx context.Context, store *sqlite.Store, effective census.Date, headers []census.Header) (*sqlite.CensusRecord, error) {
	rec, err := store.GetCensus(ctx, censusID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, census.ErrCensusNotFound) {
		return nil, err
	}

	name := censusName
	if name == "" {
		name = censusID
	}
	created := sqlite.CensusRecord{
		ID:            censusID,
		Name:          name,
		Region:        region,
		EffectiveDate: effective,
		NewEnrollment: newEnrollment,
	}
	if err := store.SaveCensus(ctx, created); err != nil {
		return nil, err
	}
	if err := store.SaveHeaders(ctx, created.ID, factory.WithSystemHeaders(headers)); err != nil {
		return nil, err
	}
	return &created, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printSummary(w io.Writer, sum census.Summary) {
	fmt.Fprintf(w, "Members: %d (employees %d, dependents %d)\n", sum.Total, sum.EmployeeCount, sum.DependentCount)
	fmt.Fprintf(w, "Households: %d employee only, %d with spouse, %d with children, %d family\n",
		sum.EmployeeOnly, sum.EmployeeSpouse, sum.EmployeeChild, sum.EmployeeFamily)
}

func printValidation(w io.Writer, members census.Census, check *census.CensusValidationError) {
	if check.NoEmployees {
		fmt.Fprintln(w, "Census has no employees")
	}
	if len(check.Failures) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MEMBER\tNAME\tERROR")
		for _, f := range check.Failures {
			name := ""
			if m, ok := members.Find(f.Identifier); ok {
				name = m.FullName()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Identifier, name, f.Error)
		}
		tw.Flush()
	}
	for _, id := range check.Orphans {
		fmt.Fprintf(w, "Dependent %s has no employee\n", id)
	}
}
