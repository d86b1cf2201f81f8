// Package export builds the downloadable Excel report over an
// already-filtered expense row-set.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"gastos/internal/core"
)

const (
	// SheetName is the single worksheet holding the report.
	SheetName = "Expenses"

	// ContentType is the standard xlsx MIME type for the download response.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	amountFormat = "#,##0.00"
	headerFill   = "BDD7EE"
)

var headers = []string{
	"Fecha", "Proveedor", "Pago", "Monto", "Moneda",
	"Factura Ref", "Ref Pago", "Enviado Email", "Factura Aparte", "Detalles",
}

var columnWidths = []float64{12, 20, 12, 12, 8, 15, 15, 12, 12, 30}

// Filename returns the attachment name with second-level precision.
func Filename(generatedAt time.Time) string {
	return "expenses_" + generatedAt.Format("20060102_150405") + ".xlsx"
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func thinBorders() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
}

// BuildWorkbook renders the report: a merged timestamp banner, a styled
// header row, one bordered row per expense in input order, and bold per
// currency totals two blank rows below the data. An empty row-set still
// produces the banner, headers and zero totals.
func BuildWorkbook(rows []core.Expense, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("sheet name: %w", err)
	}

	numFmt := amountFormat

	bannerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("banner style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		Border: thinBorders(),
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	headerAmountStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		Border:    thinBorders(),
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return nil, fmt.Errorf("header amount style: %w", err)
	}
	cellStyle, err := f.NewStyle(&excelize.Style{Border: thinBorders()})
	if err != nil {
		return nil, fmt.Errorf("cell style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{
		Border:       thinBorders(),
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		CustomNumFmt: &numFmt,
	})
	if err != nil {
		return nil, fmt.Errorf("amount style: %w", err)
	}
	totalLabelStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("total label style: %w", err)
	}
	totalValueStyle, err := f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Bold: true},
		CustomNumFmt: &numFmt,
	})
	if err != nil {
		return nil, fmt.Errorf("total value style: %w", err)
	}

	// Row 1: merged generation banner.
	if err := f.MergeCell(SheetName, "A1", "J1"); err != nil {
		return nil, fmt.Errorf("merge banner: %w", err)
	}
	banner := "Generated on: " + generatedAt.Format("2006-01-02 15:04:05")
	if err := f.SetCellValue(SheetName, "A1", banner); err != nil {
		return nil, fmt.Errorf("banner value: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "J1", bannerStyle); err != nil {
		return nil, fmt.Errorf("banner cell style: %w", err)
	}

	// Row 2: column headers. The amount column header is right-aligned.
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("header value: %w", err)
		}
		style := headerStyle
		if i == 3 {
			style = headerAmountStyle
		}
		if err := f.SetCellStyle(SheetName, cell, cell, style); err != nil {
			return nil, fmt.Errorf("header cell style: %w", err)
		}
	}

	// Data rows, accumulating per-currency totals as they are written.
	// Currencies outside CRC/USD are excluded from both totals.
	var totalCRC, totalUSD float64
	rowNum := 3
	for _, e := range rows {
		values := []any{
			e.Date,
			e.ProviderName,
			e.PaymentType.Display(),
			e.Amount,
			string(e.Currency),
			e.FacturaRef,
			e.PaymentRef,
			yesNo(e.DeliveredEmail),
			yesNo(e.FacturaAparte),
			e.Details,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("data cell %s: %w", cell, err)
			}
			style := cellStyle
			if col == 3 {
				style = amountStyle
			}
			if err := f.SetCellStyle(SheetName, cell, cell, style); err != nil {
				return nil, fmt.Errorf("data cell style %s: %w", cell, err)
			}
		}

		switch e.Currency {
		case core.CRC:
			totalCRC += e.Amount
		case core.USD:
			totalUSD += e.Amount
		}
		rowNum++
	}

	// Two blank rows, then the totals block in columns C/D.
	totalRow := rowNum + 2
	totals := []struct {
		label string
		value float64
	}{
		{"Total CRC:", totalCRC},
		{"Total USD:", totalUSD},
	}
	for i, tot := range totals {
		labelCell, _ := excelize.CoordinatesToCellName(3, totalRow+i)
		valueCell, _ := excelize.CoordinatesToCellName(4, totalRow+i)
		if err := f.SetCellValue(SheetName, labelCell, tot.label); err != nil {
			return nil, fmt.Errorf("total label: %w", err)
		}
		if err := f.SetCellStyle(SheetName, labelCell, labelCell, totalLabelStyle); err != nil {
			return nil, fmt.Errorf("total label style: %w", err)
		}
		if err := f.SetCellValue(SheetName, valueCell, tot.value); err != nil {
			return nil, fmt.Errorf("total value: %w", err)
		}
		if err := f.SetCellStyle(SheetName, valueCell, valueCell, totalValueStyle); err != nil {
			return nil, fmt.Errorf("total value style: %w", err)
		}
	}

	// Fixed column widths, independent of content.
	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return nil, fmt.Errorf("column width %s: %w", col, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
