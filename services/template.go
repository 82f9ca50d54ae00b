package services

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const templateSheet = "catalog"

// TemplateColumns are the headers of the downloadable import template, in
// the order they are written.
var TemplateColumns = []string{
	ColSKU, ColName, ColDescription, ColSilhouette, ColGender, ColCategory,
	ColBrand, ColDepartment, ColStatus, ColSize, ColSimpleCurve,
	ColReinforcedCurve, ColAvailableQty, ColPrice,
	imageColumn(1), imageColumn(2), imageColumn(3), imageColumn(4), imageColumn(5),
}

var templateExamples = [][]string{
	{"A1", "Runner", "Lightweight running shoe", "low", "unisex", "running", "Acme", "footwear", "active", "M", "2", "4", "10", "59.90", "https://cdn.example.com/a1.jpg", "", "", "", ""},
	{"A1", "Runner", "Lightweight running shoe", "low", "unisex", "running", "Acme", "footwear", "active", "L", "1", "3", "6", "59.90", "https://cdn.example.com/a1.jpg", "", "", "", ""},
}

// WriteCSVTemplate writes the import template as comma-separated text.
func WriteCSVTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TemplateColumns); err != nil {
		return err
	}
	if err := cw.WriteAll(templateExamples); err != nil {
		return err
	}
	return cw.Error()
}

// WriteXLSXTemplate writes the import template as a workbook with one sheet.
func WriteXLSXTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	rows := append([][]string{TemplateColumns}, templateExamples...)
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(templateSheet, cell, &values); err != nil {
			return fmt.Errorf("write template row %d: %w", r+1, err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(TemplateColumns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(templateSheet, "A1", last, style); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
