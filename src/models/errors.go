package models

import (
	"errors"
	"fmt"
)

// SLIP processing errors. Typed errors below wrap these so callers can use errors.Is.
var (
	ErrMalformedMarker      = errors.New("slip: malformed marker")
	ErrMalformedRecord      = errors.New("slip: malformed record")
	ErrFieldOverflow        = errors.New("slip: value wider than field")
	ErrNonNumericAmount     = errors.New("slip: non-numeric amount")
	ErrUnknownCode          = errors.New("slip: unknown transaction code")
	ErrUnresolvableCode     = errors.New("slip: unresolvable transaction code")
	ErrReconciliationFailed = errors.New("slip: branch reconciliation failed")
	ErrNoEligibleBranches   = errors.New("slip: no eligible branches")
	ErrNonNumericAccount    = errors.New("slip: non-numeric account number")
	ErrStoreBusy            = errors.New("slip: store busy")
	ErrUnstampedTransaction = errors.New("slip: transaction has no security check field")
	ErrFileNotFound         = errors.New("slip: file not found")
	ErrFileReleased         = errors.New("slip: file already released")
	ErrRunNotFound          = errors.New("slip: run not found")
	ErrRunNotHalted         = errors.New("slip: run is not halted")
)

// Reason codes used in reports and as Halted(reason).
const (
	ReasonNonNumericAccount    = "NonNumericAccount"
	ReasonReconciliationFailed = "ReconciliationFailed"
	ReasonZeroValueBranch      = "ZeroValueBranch"
	ReasonUnresolvableCode     = "UnresolvableCode"
	ReasonNoEligibleBranches   = "NoEligibleBranches"
	ReasonStoreBusy            = "StoreBusy"
	ReasonMalformedRecord      = "MalformedRecord"
	ReasonInternal             = "InternalError"
)

// RecordError is a structural failure on a single line of a file.
type RecordError struct {
	FileName string
	Line     int
	Marker   string
	Field    string
	Err      error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("file %q line %d (marker %q)", e.FileName, e.Line, e.Marker)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %s", e.Field)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }

// CodeError identifies the transaction whose code could not be classified or resolved.
type CodeError struct {
	FileName      string
	BranchCode    string
	TransactionID string
	Code          string
	Err           error
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("file %q branch %s transaction %s code %q: %v",
		e.FileName, e.BranchCode, e.TransactionID, e.Code, e.Err)
}

func (e *CodeError) Unwrap() error { return e.Err }

// BranchError identifies a branch-level failure such as a totals mismatch.
type BranchError struct {
	FileName   string
	BranchCode string
	Detail     string
	Err        error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("file %q branch %s: %v: %s", e.FileName, e.BranchCode, e.Err, e.Detail)
}

func (e *BranchError) Unwrap() error { return e.Err }
