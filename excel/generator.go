// Package excel exports draft-pay summaries as XLSX workbooks.
package excel

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/care-engine/pay"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate writes one sheet listing every auxiliary's draft pay for the
// period, one row per auxiliary.
func (g *Generator) Generate(summaries []pay.Summary) ([]byte, error) {
	file := excelize.NewFile()

	sheet := "Paie"
	file.SetSheetName("Sheet1", sheet)

	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	headers := []string{
		"Auxiliaire", "Secteur", "Début", "Fin",
		"Heures travaillées", "Heures contrat", "Solde",
		"Non majoré non exonéré", "Majoré non exonéré",
		"Non majoré exonéré", "Majoré exonéré",
		"Transport", "Autres frais",
	}
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		set(col+"1", h)
	}

	for i, s := range summaries {
		row := i + 2
		set(fmt.Sprintf("A%d", row), s.Firstname+" "+s.Lastname)
		set(fmt.Sprintf("B%d", row), s.Sector)
		set(fmt.Sprintf("C%d", row), s.StartDate.Format("02/01/2006"))
		set(fmt.Sprintf("D%d", row), s.EndDate.Format("02/01/2006"))
		set(fmt.Sprintf("E%d", row), s.WorkedHours.StringFixed(2))
		set(fmt.Sprintf("F%d", row), s.ContractHours.StringFixed(2))
		set(fmt.Sprintf("G%d", row), s.HoursBalance.StringFixed(2))
		set(fmt.Sprintf("H%d", row), s.NotSurchargedAndNotExempt.StringFixed(2))
		set(fmt.Sprintf("I%d", row), s.SurchargedAndNotExempt.StringFixed(2))
		set(fmt.Sprintf("J%d", row), s.NotSurchargedAndExempt.StringFixed(2))
		set(fmt.Sprintf("K%d", row), s.SurchargedAndExempt.StringFixed(2))
		set(fmt.Sprintf("L%d", row), s.Transport.StringFixed(2))
		set(fmt.Sprintf("M%d", row), s.OtherFees.StringFixed(2))
	}

	_ = file.SetColWidth(sheet, "A", "A", 28)
	_ = file.SetColWidth(sheet, "B", "M", 16)

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
