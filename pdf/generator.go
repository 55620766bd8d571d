// Package pdf renders customer bills as PDF documents.
package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/customer"
)

// BillDocument joins a persisted bill with the display data it references.
type BillDocument struct {
	Bill        billing.Bill
	Customer    customer.Customer
	CompanyName string
	PayerName   string // set for third-party payer bills
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders the bill. Core Helvetica with the latin-1 translator
// covers the French labels without an embedded font.
func (g *Generator) Generate(doc BillDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr("Facture "+doc.Bill.Number), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Date : %s", formatDate(doc.Bill.Date))), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr(doc.CompanyName), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	addressee := doc.Customer.Identity.Firstname + " " + doc.Customer.Identity.Lastname
	if doc.PayerName != "" {
		addressee = doc.PayerName
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr("Destinataire"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, tr(addressee), "", "L", false)
	if doc.PayerName != "" {
		pdf.MultiCell(0, 5, tr("Pour : "+doc.Customer.Identity.Firstname+" "+doc.Customer.Identity.Lastname), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr("Prestations"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	headers := []string{"Prestation", "Heures", "Prix unitaire TTC", "HT", "TTC"}
	colWidths := []float64{70, 25, 30, 27, 28}
	drawTableRow(pdf, tr, headers, colWidths, true)

	for _, sub := range doc.Bill.Subscriptions {
		row := []string{
			sub.ServiceName,
			formatAmount(sub.Hours),
			formatAmount(sub.UnitInclTaxes),
			formatAmount(sub.ExclTaxes),
			formatAmount(sub.InclTaxes),
		}
		drawTableRow(pdf, tr, row, colWidths, false)
	}

	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Net à payer TTC : %s EUR", formatAmount(doc.Bill.NetInclTaxes))), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawTableRow(pdf *gofpdf.Fpdf, tr func(string) string, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 10)
	for i, col := range cols {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, tr(col), "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func formatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
