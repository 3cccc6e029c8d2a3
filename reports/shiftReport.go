package reports

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kasirhub/pos_backend/models"
)

// ShiftCloseoutWorkbook renders a closed shift as an xlsx close-out sheet:
// shift header, then one row per payment method with expected, actual and
// difference columns, then the totals row.
func ShiftCloseoutWorkbook(shift *models.Shift) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	f.SetCellValue(sheet, "A1", "ShiftId")
	f.SetCellValue(sheet, "B1", shift.ID)
	f.SetCellValue(sheet, "A2", "Outlet")
	f.SetCellValue(sheet, "B2", shift.OutletId)
	f.SetCellValue(sheet, "A3", "OpenedAt")
	f.SetCellValue(sheet, "B3", shift.OpenedAt.Format("2006-01-02 15:04:05"))
	if shift.ClosedAt != nil {
		f.SetCellValue(sheet, "A4", "ClosedAt")
		f.SetCellValue(sheet, "B4", shift.ClosedAt.Format("2006-01-02 15:04:05"))
	}
	f.SetCellValue(sheet, "A5", "OpeningBalance")
	f.SetCellValue(sheet, "B5", shift.OpeningBalance.String())
	f.SetCellValue(sheet, "A6", "Transactions")
	f.SetCellValue(sheet, "B6", shift.TotalTransactions)

	f.SetCellValue(sheet, "A8", "Method")
	f.SetCellValue(sheet, "B8", "Expected")
	f.SetCellValue(sheet, "C8", "Actual")
	f.SetCellValue(sheet, "D8", "Difference")
	f.SetCellValue(sheet, "E8", "Count")

	for i, method := range models.AllPaymentMethods() {
		expected, actual, count := shift.MethodTotals(method)
		n := fmt.Sprint(9 + i)
		f.SetCellValue(sheet, "A"+n, method.Label())
		f.SetCellValue(sheet, "B"+n, expected.String())
		f.SetCellValue(sheet, "C"+n, actual.String())
		f.SetCellValue(sheet, "D"+n, actual.Sub(expected).String())
		f.SetCellValue(sheet, "E"+n, count)
	}

	f.SetCellValue(sheet, "A13", "Total")
	f.SetCellValue(sheet, "B13", shift.ExpectedTotal.String())
	f.SetCellValue(sheet, "C13", shift.ActualTotal.String())
	f.SetCellValue(sheet, "D13", shift.TotalDifference.String())
	f.SetCellValue(sheet, "E13", shift.TotalTransactions)

	if shift.ClosingNotes != "" {
		f.SetCellValue(sheet, "A15", "Notes")
		f.SetCellValue(sheet, "B15", shift.ClosingNotes)
	}

	return f, nil
}
