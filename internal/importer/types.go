package importer

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorReason classifies why a CSV row was rejected.
type ErrorReason string

const (
	ReasonMissingColumn       ErrorReason = "MISSING_COLUMN"
	ReasonBadFormat           ErrorReason = "BAD_FORMAT"
	ReasonInvalidTimestamp    ErrorReason = "INVALID_TIMESTAMP"
	ReasonInvalidCoordinates  ErrorReason = "INVALID_COORDINATES"
	ReasonOutOfScope          ErrorReason = "OUT_OF_SCOPE"
	ReasonNegativeSubtotal    ErrorReason = "NEGATIVE_SUBTOTAL"
	ReasonDuplicateExternalID ErrorReason = "DUPLICATE_EXTERNAL_ID"
	ReasonCalculationFailed   ErrorReason = "CALCULATION_FAILED"
	ReasonUnknown             ErrorReason = "UNKNOWN"
)

// RowError records a single rejected CSV row. RowNumber and ExternalID are
// pointers: out-of-scope errors discovered after the fact may not map back to
// a known row.
type RowError struct {
	RowNumber  *int        `json:"rowNumber"`
	ExternalID *int64      `json:"externalId"`
	Reason     ErrorReason `json:"reason"`
	Field      string      `json:"field"`
	Message    string      `json:"message"`
	RawRow     string      `json:"rawRow"`
}

// Row is a CSV row that passed validation and is ready to persist.
type Row struct {
	RowNumber  int
	RawLine    string
	ExternalID *int64
	Latitude   decimal.Decimal
	Longitude  decimal.Decimal
	Timestamp  int64 // epoch millis
	Subtotal   decimal.Decimal
}

// DuplicatePolicy decides what happens to rows whose external id already exists.
type DuplicatePolicy string

const (
	DuplicateSkip      DuplicatePolicy = "SKIP"
	DuplicateOverwrite DuplicatePolicy = "OVERWRITE"
	DuplicateFail      DuplicatePolicy = "FAIL"
)

// DuplicatePolicyFrom parses a query-param value; anything unrecognized falls
// back to SKIP.
func DuplicatePolicyFrom(value string) DuplicatePolicy {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "OVERWRITE":
		return DuplicateOverwrite
	case "FAIL":
		return DuplicateFail
	default:
		return DuplicateSkip
	}
}

// OutOfScopePolicy decides whether out-of-scope records after recalculation
// are merely marked or also reported as row errors.
type OutOfScopePolicy string

const (
	OutOfScopeMark OutOfScopePolicy = "MARK"
	OutOfScopeFail OutOfScopePolicy = "FAIL"
)

// OutOfScopePolicyFrom parses a query-param value; default is MARK.
func OutOfScopePolicyFrom(value string) OutOfScopePolicy {
	if strings.EqualFold(strings.TrimSpace(value), "fail") {
		return OutOfScopeFail
	}
	return OutOfScopeMark
}
