package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Structural failures abort the whole import before anything is written.
var (
	ErrEmptyFile = errors.New("csv file is empty")
	ErrNoHeader  = errors.New("csv file has no header row")
)

var (
	latMin = decimal.NewFromInt(-90)
	latMax = decimal.NewFromInt(90)
	lonMin = decimal.NewFromInt(-180)
	lonMax = decimal.NewFromInt(180)
)

// pgTimestampLayouts cover `yyyy-MM-dd HH:mm:ss` with an optional fractional
// second, plus a bare date (midnight UTC).
var pgTimestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseResult is the outcome of validating a whole CSV payload. Valid rows
// and row errors both preserve input order.
type ParseResult struct {
	ValidRows []Row
	Errors    []RowError
	TotalRows int
}

// Parser validates order CSV payloads row by row. A bad row never aborts the
// parse; it becomes a RowError and parsing moves on.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads the CSV stream and splits data rows into valid rows and row
// errors. Only an empty payload or a missing header is returned as an error.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged rows are a per-row problem, not a file problem
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) == 0 || (len(header) == 1 && strings.TrimSpace(header[0]) == "") {
		return nil, ErrNoHeader
	}

	idx := buildColumnIndex(header)
	result := &ParseResult{}
	rowNum := 1

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}

		rowNum++
		result.TotalRows++
		rawLine := strings.Join(fields, ",")

		if rowErr := validateRow(fields, idx, rowNum, rawLine); rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}

		lat, _ := decimal.NewFromString(field(fields, idx, "latitude"))
		lon, _ := decimal.NewFromString(field(fields, idx, "longitude"))
		sub, _ := decimal.NewFromString(field(fields, idx, "subtotal"))
		ts, _ := ParseTimestamp(field(fields, idx, "timestamp"))

		result.ValidRows = append(result.ValidRows, Row{
			RowNumber:  rowNum,
			RawLine:    rawLine,
			ExternalID: ParseExternalID(field(fields, idx, "id")),
			Latitude:   lat,
			Longitude:  lon,
			Timestamp:  ts,
			Subtotal:   sub,
		})
	}

	return result, nil
}

// validateRow applies the checks in order, short-circuiting on the first
// failure: missing column, bad number, bad timestamp, coordinate range,
// non-positive subtotal.
func validateRow(fields []string, idx map[string]int, rowNum int, rawLine string) *RowError {
	latStr := field(fields, idx, "latitude")
	lonStr := field(fields, idx, "longitude")
	tsStr := field(fields, idx, "timestamp")
	subStr := field(fields, idx, "subtotal")

	if latStr == "" {
		return rowError(rowNum, rawLine, ReasonMissingColumn, "latitude", "latitude is required")
	}
	if lonStr == "" {
		return rowError(rowNum, rawLine, ReasonMissingColumn, "longitude", "longitude is required")
	}
	if tsStr == "" {
		return rowError(rowNum, rawLine, ReasonMissingColumn, "timestamp", "timestamp is required")
	}
	if subStr == "" {
		return rowError(rowNum, rawLine, ReasonMissingColumn, "subtotal", "subtotal is required")
	}

	lat, err := decimal.NewFromString(latStr)
	if err != nil {
		return rowError(rowNum, rawLine, ReasonBadFormat, "latitude", "Cannot parse latitude: "+latStr)
	}
	lon, err := decimal.NewFromString(lonStr)
	if err != nil {
		return rowError(rowNum, rawLine, ReasonBadFormat, "longitude", "Cannot parse longitude: "+lonStr)
	}
	sub, err := decimal.NewFromString(subStr)
	if err != nil {
		return rowError(rowNum, rawLine, ReasonBadFormat, "subtotal", "Cannot parse subtotal: "+subStr)
	}

	if _, err := ParseTimestamp(tsStr); err != nil {
		return rowError(rowNum, rawLine, ReasonInvalidTimestamp, "timestamp", "Cannot parse timestamp: "+tsStr)
	}

	if lat.LessThan(latMin) || lat.GreaterThan(latMax) {
		return rowError(rowNum, rawLine, ReasonInvalidCoordinates, "latitude", "Latitude out of range [-90, 90]: "+lat.String())
	}
	if lon.LessThan(lonMin) || lon.GreaterThan(lonMax) {
		return rowError(rowNum, rawLine, ReasonInvalidCoordinates, "longitude", "Longitude out of range [-180, 180]: "+lon.String())
	}
	if !sub.IsPositive() {
		return rowError(rowNum, rawLine, ReasonNegativeSubtotal, "subtotal", "subtotal must be > 0, got: "+sub.String())
	}

	return nil
}

func rowError(rowNum int, rawLine string, reason ErrorReason, fieldName, message string) *RowError {
	n := rowNum
	return &RowError{
		RowNumber: &n,
		Reason:    reason,
		Field:     fieldName,
		Message:   message,
		RawRow:    rawLine,
	}
}

func buildColumnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseExternalID returns nil for a blank or non-integer id; such rows are
// still importable, they just carry no duplicate identity.
func ParseExternalID(value string) *int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// ParseTimestamp accepts integer epoch millis, RFC 3339 date-times (offset or
// instant), `yyyy-MM-dd HH:mm:ss[.fraction]` (UTC assumed) or a bare date.
// A blank value means "now".
func ParseTimestamp(value string) (int64, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Now().UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	for _, layout := range pgTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse timestamp %q: use epoch millis, ISO-8601 or 'yyyy-MM-dd HH:mm:ss[.fraction]'", value)
}
