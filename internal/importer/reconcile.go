package importer

import "fmt"

// ReconcileResult splits validated rows into what gets inserted, what
// overwrites an existing order, and what was dropped.
type ReconcileResult struct {
	Insert    []Row
	Overwrite []Row
	Skipped   int
	Errors    []RowError
}

// Reconcile classifies validated rows against the set of already-persisted
// external ids. Rows without an external id are always new inserts; the
// duplicate policy only applies to rows whose id is already known.
func Reconcile(rows []Row, existing map[int64]bool, policy DuplicatePolicy) ReconcileResult {
	var result ReconcileResult

	for _, row := range rows {
		isDuplicate := row.ExternalID != nil && existing[*row.ExternalID]
		if !isDuplicate {
			result.Insert = append(result.Insert, row)
			continue
		}

		switch policy {
		case DuplicateOverwrite:
			result.Overwrite = append(result.Overwrite, row)
		case DuplicateFail:
			n := row.RowNumber
			result.Errors = append(result.Errors, RowError{
				RowNumber:  &n,
				ExternalID: row.ExternalID,
				Reason:     ReasonDuplicateExternalID,
				Field:      "id",
				Message:    fmt.Sprintf("External id %d already exists", *row.ExternalID),
				RawRow:     row.RawLine,
			})
		default: // SKIP
			result.Skipped++
		}
	}

	return result
}
