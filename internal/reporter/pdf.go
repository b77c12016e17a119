package reporter

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/supabase/hostaudit/internal/runner"
	"github.com/supabase/hostaudit/pkg/types"
)

// PDFReporter renders a landscape A4 compliance report.
type PDFReporter struct {
	w io.Writer
}

// NewPDFReporter creates a new PDF reporter
func NewPDFReporter(w io.Writer) *PDFReporter {
	return &PDFReporter{w: w}
}

// Report writes the run result as a PDF document.
func (r *PDFReporter) Report(result *runner.Result) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("hostaudit "+result.Mode.String()+" report", false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(40, 10, "hostaudit compliance report")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Generated on: %s", result.Finished.Format("02 Jan 2006 15:04:05")))
	pdf.Ln(5)
	pdf.Cell(40, 6, tr(fmt.Sprintf("Host: %s (%s)", result.Hostname, result.OS)))
	pdf.Ln(5)
	pdf.Cell(40, 6, fmt.Sprintf("Mode: %s   Run: %s", result.Mode, result.RunID))
	pdf.Ln(10)

	r.summaryBox(pdf, result)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(50, 50, 60)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(20, 9, "RULE", "1", 0, "C", true, 0, "")
	pdf.CellFormat(90, 9, "NAME", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 9, "INITIAL", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 9, "FIX", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 9, "UNDO", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 9, "STATUS", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for i, rr := range result.Rules {
		if i%2 == 0 {
			pdf.SetFillColor(255, 255, 255)
		} else {
			pdf.SetFillColor(245, 245, 245)
		}
		pdf.SetTextColor(0, 0, 0)

		initial := "-"
		if result.Mode != types.ModeUndo {
			initial = "not compliant"
			if rr.Compliant {
				initial = "compliant"
			}
		}
		pdf.CellFormat(20, 8, fmt.Sprint(rr.Number), "1", 0, "C", true, 0, "")
		pdf.CellFormat(90, 8, tr(truncate(rr.Name, 55)), "1", 0, "L", true, 0, "")
		pdf.CellFormat(35, 8, initial, "1", 0, "C", true, 0, "")
		pdf.CellFormat(30, 8, rr.Fix.String(), "1", 0, "C", true, 0, "")
		pdf.CellFormat(30, 8, rr.Undo.String(), "1", 0, "C", true, 0, "")

		st := Status(result.Mode, rr)
		switch st {
		case "COMPLIANT", "FIXED", "UNDONE":
			pdf.SetFillColor(230, 255, 230)
			pdf.SetTextColor(0, 100, 0)
		case "NOT COMPLIANT", "NOT RUN":
			pdf.SetFillColor(255, 245, 220)
			pdf.SetTextColor(150, 90, 0)
		default:
			pdf.SetFillColor(255, 230, 230)
			pdf.SetTextColor(200, 0, 0)
		}
		pdf.CellFormat(40, 8, st, "1", 1, "C", true, 0, "")
	}

	if len(result.Warnings) > 0 {
		pdf.Ln(6)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(40, 8, "Warnings")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 9)
		for _, w := range result.Warnings {
			pdf.MultiCell(0, 5, tr("- "+w), "", "L", false)
		}
	}

	return pdf.Output(r.w)
}

func (r *PDFReporter) summaryBox(pdf *gofpdf.Fpdf, result *runner.Result) {
	s := result.Summary
	y := pdf.GetY()
	pdf.SetFillColor(248, 250, 252)
	pdf.Rect(10, y, 277, 22, "FD")
	pdf.SetXY(15, y+3)
	pdf.SetFont("Arial", "B", 13)
	pdf.Cell(50, 8, "Summary")

	pdf.SetXY(15, y+12)
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(40, 8, fmt.Sprintf("Rules: %d", s.Total))
	pdf.SetTextColor(0, 128, 0)
	pdf.Cell(45, 8, fmt.Sprintf("Compliant: %d", s.Compliant))
	pdf.SetTextColor(180, 110, 0)
	pdf.Cell(50, 8, fmt.Sprintf("Not compliant: %d", s.NonCompliant))
	pdf.SetTextColor(0, 0, 139)
	pdf.Cell(35, 8, fmt.Sprintf("Fixed: %d", s.Fixed))
	pdf.Cell(35, 8, fmt.Sprintf("Undone: %d", s.Undone))
	pdf.SetTextColor(220, 0, 0)
	pdf.Cell(35, 8, fmt.Sprintf("Errors: %d", s.Errors))
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(10, y+28)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
