package ledger

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsLedger appends rows to a Google Sheets worksheet using a service
// account credential.
type SheetsLedger struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetRange    string
}

// NewSheetsLedger builds the Sheets client once at startup. When the
// credentials file is empty, ambient application-default credentials apply.
func NewSheetsLedger(ctx context.Context, spreadsheetID, sheetRange, credentialsFile string) (*SheetsLedger, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	return &SheetsLedger{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetRange:    sheetRange,
	}, nil
}

// Append adds one diagnosis row after the last populated row of the sheet.
func (l *SheetsLedger) Append(ctx context.Context, entry Entry) error {
	values := &sheets.ValueRange{Values: [][]interface{}{EncodeRow(entry)}}
	_, err := l.svc.Spreadsheets.Values.
		Append(l.spreadsheetID, l.sheetRange, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}
