package importer

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

var errorReportColumns = []string{"rowNumber", "externalId", "reason", "field", "message", "rawRow"}

// WriteErrorReport renders row errors as an RFC 4180 CSV document. Fields
// containing commas, quotes or newlines are quoted with embedded quotes
// doubled, which encoding/csv does on its own.
func WriteErrorReport(errors []RowError) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(errorReportColumns); err != nil {
		return nil, err
	}
	for _, e := range errors {
		row := []string{
			intCell(e.RowNumber),
			int64Cell(e.ExternalID),
			string(e.Reason),
			e.Field,
			e.Message,
			e.RawRow,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func int64Cell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
