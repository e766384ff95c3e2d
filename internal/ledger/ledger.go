// Package ledger appends diagnosis events to the external spreadsheet that
// serves as the deployment's system of record.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// The dashboard sheet reserves the first twelve columns for its own charts;
// appended rows start writing at column M.
const reservedColumns = 12

// dateLayout is the dd/mm/yyyy format the dashboard formulas expect.
const dateLayout = "02/01/2006"

// Entry is one definite diagnosis event.
type Entry struct {
	Date  time.Time
	Label string
}

// Ledger is the append-only sink for definite diagnoses.
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
}

// EncodeRow lays an entry out as a sheet row: twelve reserved blanks, the
// date string, then the label.
func EncodeRow(entry Entry) []interface{} {
	row := make([]interface{}, 0, reservedColumns+2)
	for i := 0; i < reservedColumns; i++ {
		row = append(row, "")
	}
	return append(row, entry.Date.Format(dateLayout), entry.Label)
}

// DecodeRow reverses EncodeRow. Used by tests and dashboard tooling.
func DecodeRow(row []interface{}) (Entry, error) {
	if len(row) < reservedColumns+2 {
		return Entry{}, fmt.Errorf("row has %d columns, want at least %d", len(row), reservedColumns+2)
	}

	dateStr, ok := row[reservedColumns].(string)
	if !ok {
		return Entry{}, fmt.Errorf("date column is %T, want string", row[reservedColumns])
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}

	label, ok := row[reservedColumns+1].(string)
	if !ok {
		return Entry{}, fmt.Errorf("label column is %T, want string", row[reservedColumns+1])
	}

	return Entry{Date: date, Label: label}, nil
}
