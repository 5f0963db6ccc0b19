package statement

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const dateLayout = "2006-01-02 15:04"

// BuildPDF renders a one page PDF statement.
func BuildPDF(report *Report) ([]byte, error) {
	if report == nil {
		return nil, ErrNilTotals
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Energy Billing Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Edge: %s", report.EdgeID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", report.PeriodStart.Format(dateLayout), report.PeriodEnd.Format(dateLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Price from production (%s/kWh): %s", report.Currency, report.ProdPrice.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Price from grid (%s/kWh): %s", report.Currency, report.IntroPrice.String()))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Meter", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Billed (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "From prod. (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "From grid (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, fmt.Sprintf("Amount (%s)", report.Currency), "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range report.Lines {
		pdf.CellFormat(40, 6, line.MeterOnEdge, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, line.IntroKWH.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, line.PartFromProdKWH.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, line.PartFromIntroKWH.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, line.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Total Energy (kWh): %s", report.TotalKWH.StringFixed(3)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Amount (%s): %s", report.Currency, report.TotalAmount.StringFixed(2)))
	pdf.Ln(5)
	for _, w := range report.Warnings {
		pdf.Cell(0, 6, "Warning: "+w)
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and one row per billed meter.
func BuildXLSX(report *Report) ([]byte, error) {
	if report == nil {
		return nil, ErrNilTotals
	}

	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	metersSheet := "meters"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(metersSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Energy Billing Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Edge")
	_ = f.SetCellValue(summarySheet, "B3", report.EdgeID)
	_ = f.SetCellValue(summarySheet, "A4", "Period start")
	_ = f.SetCellValue(summarySheet, "B4", report.PeriodStart.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Period end")
	_ = f.SetCellValue(summarySheet, "B5", report.PeriodEnd.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Total Energy (kWh)")
	_ = f.SetCellValue(summarySheet, "B6", report.TotalKWH.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A7", "Total Amount")
	_ = f.SetCellValue(summarySheet, "B7", report.TotalAmount.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Currency")
	_ = f.SetCellValue(summarySheet, "B8", report.Currency)
	for i, w := range report.Warnings {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", 10+i), "Warning")
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", 10+i), w)
	}

	headers := []string{"Meter", "Meter ID", "Billed (kWh)", "From production (kWh)", "From grid (kWh)", "Production (kWh)", "Amount"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(metersSheet, cell, h)
	}
	for i, line := range report.Lines {
		row := i + 2
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("A%d", row), line.MeterOnEdge)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("B%d", row), line.MeterID)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("C%d", row), line.IntroKWH.InexactFloat64())
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("D%d", row), line.PartFromProdKWH.InexactFloat64())
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("E%d", row), line.PartFromIntroKWH.InexactFloat64())
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("F%d", row), line.ProdKWH.InexactFloat64())
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("G%d", row), line.Amount.InexactFloat64())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
