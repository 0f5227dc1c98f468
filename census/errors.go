/*
errors.go - Centralized error types for the census engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (api, cmd) map these to HTTP statuses or CLI exit codes.

ERROR CATEGORIES:
  1. Configuration errors - Session cannot be initialized (fatal, no retry)
  2. Validation errors    - Per-record problems, fixed by editing the record
  3. Remote-call errors   - Member service / service-area lookup failures
  4. Import errors        - Bulk import rejected before any row is processed

USAGE:
  if errors.Is(err, census.ErrCensusInvalid) {
      // show per-record errors, no save was attempted
  }

  var remote *census.RemoteError
  if errors.As(err, &remote) {
      fmt.Println(remote.Message())
  }

SEE ALSO:
  - validator.go: Produces per-record validation messages
  - session.go: Wraps remote failures in RemoteError
*/
package census

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingCensusID is returned when a session is created without the
	// census identifier needed to load members.
	ErrMissingCensusID = errors.New("missing parameter: censusId")

	// ErrMissingEffectiveDate is returned when a session has no usable
	// effective date. Every age rule is evaluated as of this date.
	ErrMissingEffectiveDate = errors.New("missing parameter: effectiveDate")

	// ErrCensusInvalid is returned when a save is blocked by validation.
	ErrCensusInvalid = errors.New("census has invalid members")

	// ErrCensusNotFound is returned when a census id is unknown.
	ErrCensusNotFound = errors.New("census not found")

	// ErrMemberNotFound is returned when an identifier matches no member.
	ErrMemberNotFound = errors.New("member not found")

	// ErrNotPrimary is returned when a dependent is added under a dependent.
	ErrNotPrimary = errors.New("member is not a primary member")

	// ErrRowLimitExceeded is returned when an import has too many rows.
	ErrRowLimitExceeded = errors.New("row limit exceeded")

	// ErrRemoteCall is the root of every member service / lookup failure.
	ErrRemoteCall = errors.New("remote call failed")

	// ErrNotLoaded is returned when a session operation needs a loaded census.
	ErrNotLoaded = errors.New("census not loaded")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CensusValidationError lists the members that blocked a save.
type CensusValidationError struct {
	Failures []MemberError
	// NoEmployees is set when the census has no primary member at all.
	NoEmployees bool
	// Orphans holds dependents whose primary could not be found.
	Orphans []string
}

func (e *CensusValidationError) Error() string {
	var parts []string
	if e.NoEmployees {
		parts = append(parts, "census has no employees")
	}
	if len(e.Failures) > 0 {
		parts = append(parts, fmt.Sprintf("%d member(s) failed validation", len(e.Failures)))
	}
	if len(e.Orphans) > 0 {
		parts = append(parts, fmt.Sprintf("%d dependent(s) without a primary member", len(e.Orphans)))
	}
	if len(parts) == 0 {
		return ErrCensusInvalid.Error()
	}
	return ErrCensusInvalid.Error() + ": " + strings.Join(parts, ", ")
}

func (e *CensusValidationError) Unwrap() error {
	return ErrCensusInvalid
}

// RemoteError wraps a failed call to an external collaborator.
// The census is left exactly as it was before the call.
type RemoteError struct {
	Op  string // "loadMembers", "saveMembers", "deleteMembers", "lookupServiceArea"
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRemoteCall, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemoteCall, e.Err}
}

// Message is the single user-facing text for the failure.
func (e *RemoteError) Message() string {
	if e.Err == nil {
		return "The request could not be completed."
	}
	return e.Err.Error()
}

// RowLimitError reports an import rejected for size.
type RowLimitError struct {
	Limit int
	Rows  int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("File exceeds maximum row count %d for upload.", e.Limit)
}

func (e *RowLimitError) Unwrap() error {
	return ErrRowLimitExceeded
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCensusInvalid) ||
		errors.Is(err, ErrRowLimitExceeded) ||
		errors.Is(err, ErrNotPrimary) ||
		errors.Is(err, ErrMissingCensusID) ||
		errors.Is(err, ErrMissingEffectiveDate)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) || errors.Is(err, ErrCensusNotFound)
}

// IsRemote returns true if the error came from an external collaborator.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemoteCall)
}
