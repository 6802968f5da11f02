// Package mirror maintains the spreadsheet copy of the member dashboard.
// The mirror is a best-effort sink for human operators: a failed write
// never affects the ledgers, it only leaves the dirty flags in place so
// the next sync sweep retries.
package mirror

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/library-seat-settlement/internal/model"
)

// Writer renders member account summaries into an xlsx workbook at a
// fixed path.  The whole sheet is rewritten on every sync; at a few
// hundred members that is cheaper than tracking cell-level deltas.
type Writer struct {
	path string
}

// NewWriter returns a Writer targeting the given file path.
func NewWriter(path string) *Writer { return &Writer{path: path} }

// Path returns the workbook location.
func (w *Writer) Path() string { return w.path }

// WriteAccounts writes one row per member account plus a header row.
func (w *Writer) WriteAccounts(accounts []model.MemberAccount) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{
		"member_id",
		"seat_number",
		"payment_status",
		"next_due_date",
		"total_paid",
		"updated_at",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("mirror header: %w", err)
	}

	row := 2
	for _, a := range accounts {
		due := ""
		if a.NextDueDate != nil {
			due = a.NextDueDate.Format("2006-01-02")
		}
		seat := ""
		if a.SeatNumber > 0 {
			seat = fmt.Sprintf("%d", a.SeatNumber)
		}
		values := []interface{}{
			a.MemberID,
			seat,
			string(a.PaymentStatus),
			due,
			float64(a.TotalPaidCents) / 100,
			a.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("mirror cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("mirror row %d: %w", row, err)
		}
		row++
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("mirror save: %w", err)
	}
	return nil
}
