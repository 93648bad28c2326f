package services

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"gamewatch/internal/models"
)

// HistoryReport renders a game reference's snapshot history as an Excel
// workbook, oldest observation first.
func HistoryReport(ref models.GameRef, snaps []models.PriceSnapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "History"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Observed At", "Current Price", "List Price", "Discount %", "Currency", "Store", "All-Time Low"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("history report: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("history report: %w", err)
		}
	}

	// Snapshots arrive most recent first; write them oldest first.
	row := 2
	for i := len(snaps) - 1; i >= 0; i-- {
		snap := snaps[i]
		values := []interface{}{
			snap.ObservedAt.Format("2006-01-02 15:04:05"),
			snap.CurrentPrice,
			snap.ListPrice,
			snap.DiscountPercent,
			snap.Currency,
			snap.StoreName,
			snap.IsAllTimeLow,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("history report: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("history report: %w", err)
			}
		}
		row++
	}

	title := fmt.Sprintf("%s (%s, %s)", ref.GameName, ref.Region, ref.Platform)
	if err := f.SetDocProps(&excelize.DocProperties{Title: title}); err != nil {
		return nil, fmt.Errorf("history report: %w", err)
	}
	return f, nil
}
