package pipeline

import (
	"os"
	"strconv"

	"github.com/tealeg/xlsx/v2"
)

// emitWorkbook writes the three derived reports as one spreadsheet, a
// convenience export for the marketing team. Same atomic-rename rules as the
// JSON reports.
func emitWorkbook(path string, data *ReportData) error {
	f := xlsx.NewFile()

	roasSheet, err := f.AddSheet("ROAS")
	if err != nil {
		return err
	}
	addHeader(roasSheet, "campaign", "revenue", "cost", "roas", "installs")
	for _, r := range data.ROAS {
		row := roasSheet.AddRow()
		row.AddCell().SetString(r.Campaign)
		row.AddCell().SetFloat(r.Revenue)
		row.AddCell().SetFloat(r.Cost)
		row.AddCell().SetFloat(r.ROAS)
		row.AddCell().SetString(strconv.Itoa(r.Installs))
	}

	anomalySheet, err := f.AddSheet("Anomalies")
	if err != nil {
		return err
	}
	addHeader(anomalySheet, "campaign", "roas", "threshold", "revenue", "cost", "severity")
	for _, a := range data.Anomalies {
		row := anomalySheet.AddRow()
		row.AddCell().SetString(a.Campaign)
		row.AddCell().SetFloat(a.ROAS)
		row.AddCell().SetFloat(a.Threshold)
		row.AddCell().SetFloat(a.Revenue)
		row.AddCell().SetFloat(a.Cost)
		row.AddCell().SetString(string(a.Severity))
	}

	arpdauSheet, err := f.AddSheet("ARPDAU")
	if err != nil {
		return err
	}
	addHeader(arpdauSheet, "campaign", "revenue", "dau", "arpdau")
	for _, r := range data.ARPDAU {
		row := arpdauSheet.AddRow()
		row.AddCell().SetString(r.Campaign)
		row.AddCell().SetFloat(r.Revenue)
		row.AddCell().SetString(strconv.Itoa(r.DAU))
		row.AddCell().SetFloat(r.ARPDAU)
	}

	return writeAtomic(path, func(tmp *os.File) error {
		return f.Write(tmp)
	})
}

func addHeader(sheet *xlsx.Sheet, cols ...string) {
	row := sheet.AddRow()
	for _, col := range cols {
		row.AddCell().SetString(col)
	}
}
