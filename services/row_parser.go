package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"catalog-import-service/models"

	"github.com/xuri/excelize/v2"
)

// Canonical column names.
const (
	ColSKU             = "sku"
	ColName            = "name"
	ColDescription     = "description"
	ColSilhouette      = "silhouette"
	ColGender          = "gender"
	ColCategory        = "category"
	ColBrand           = "brand"
	ColDepartment      = "department"
	ColStatus          = "status"
	ColSize            = "size"
	ColSimpleCurve     = "simple_curve"
	ColReinforcedCurve = "reinforced_curve"
	ColAvailableQty    = "available_qty"
	ColPrice           = "price"
)

// maxLineErrors bounds how many line errors a ParseError collects.
const maxLineErrors = 1000

// headerAliases maps normalised header spellings to canonical columns.
var headerAliases = map[string]string{
	"sku": ColSKU, "codigo": ColSKU, "code": ColSKU, "product_code": ColSKU, "codigo_producto": ColSKU, "cod": ColSKU,
	"name": ColName, "nombre": ColName, "product_name": ColName,
	"description": ColDescription, "descripcion": ColDescription, "desc": ColDescription,
	"silhouette": ColSilhouette, "silueta": ColSilhouette,
	"gender": ColGender, "genero": ColGender,
	"category": ColCategory, "categoria": ColCategory, "tipo": ColCategory, "type": ColCategory,
	"product_type": ColCategory, "tipo_producto": ColCategory,
	"brand": ColBrand, "marca": ColBrand, "brand_name": ColBrand,
	"department": ColDepartment, "rubro": ColDepartment,
	"status": ColStatus, "estado": ColStatus,
	"size": ColSize, "talle": ColSize, "talla": ColSize,
	"simple_curve": ColSimpleCurve, "curva_simple": ColSimpleCurve, "simple": ColSimpleCurve,
	"reinforced_curve": ColReinforcedCurve, "curva_reforzada": ColReinforcedCurve, "reforzada": ColReinforcedCurve, "reinforced": ColReinforcedCurve,
	"available_qty": ColAvailableQty, "available_quantity": ColAvailableQty, "available": ColAvailableQty,
	"stock": ColAvailableQty, "cantidad_disponible": ColAvailableQty, "disponible": ColAvailableQty,
	"price": ColPrice, "precio": ColPrice, "unit_price": ColPrice, "precio_unitario": ColPrice,
}

func init() {
	for i := 1; i <= models.MaxImageColumns; i++ {
		col := imageColumn(i)
		for _, alias := range []string{"image_%d", "image%d", "imagen_%d", "imagen%d", "img_%d", "url_imagen_%d"} {
			headerAliases[fmt.Sprintf(alias, i)] = col
		}
	}
}

func imageColumn(i int) string {
	return fmt.Sprintf("image_%d", i)
}

var headerReplacer = strings.NewReplacer(
	" ", "_", "-", "_", ".", "_",
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
)

// canonicalHeader maps a trimmed header to its canonical column, or "" when
// the column is not one the grouper reads.
func canonicalHeader(h string) string {
	key := headerReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))
	return headerAliases[key]
}

// ParseOptions tunes the delimited-text reader.
type ParseOptions struct {
	// Comma is the field delimiter. Zero means detect from the header line.
	Comma rune
}

// ParsedLine is the per-line parse outcome: either Row or Err is meaningful.
type ParsedLine struct {
	Line int
	Row  models.RawRow
	Err  error
}

// OK reports whether the line parsed.
func (p ParsedLine) OK() bool { return p.Err == nil }

// ParseFile reads a CSV or XLSX catalog file. Any structural problem returns a
// *ParseError listing every offending line and no rows.
func ParseFile(filename string, r io.Reader, opts ParseOptions) ([]models.RawRow, error) {
	var (
		lines []ParsedLine
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt", "":
		lines, err = ParseCSVLines(r, opts)
	case ".xlsx":
		lines, err = ParseXLSXLines(r)
	default:
		return nil, &ParseError{Errors: []LineError{{Line: 0, Reason: fmt.Sprintf("%v: %s", ErrUnsupportedFormat, filepath.Ext(filename))}}}
	}
	if err != nil {
		return nil, err
	}
	return CollectRows(lines)
}

// CollectRows turns tagged lines into rows, or a *ParseError if any line failed.
func CollectRows(lines []ParsedLine) ([]models.RawRow, error) {
	rows := make([]models.RawRow, 0, len(lines))
	var perr ParseError
	for _, l := range lines {
		if l.Err != nil {
			perr.Errors = append(perr.Errors, LineError{Line: l.Line, Reason: l.Err.Error()})
			continue
		}
		rows = append(rows, l.Row)
	}
	if len(perr.Errors) > 0 {
		return nil, &perr
	}
	return rows, nil
}

// ParseCSVLines parses delimited text into tagged lines. The returned error is
// non-nil only when the header itself is unusable.
func ParseCSVLines(r io.Reader, opts ParseOptions) ([]ParsedLine, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	comma := opts.Comma
	if comma == 0 {
		comma = detectDelimiter(data)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = comma
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Errors: []LineError{{Line: 1, Reason: "file is empty"}}}
	}
	if err != nil {
		return nil, &ParseError{Errors: []LineError{{Line: 1, Reason: fmt.Sprintf("unreadable header: %v", err)}}}
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var lines []ParsedLine
	errCount := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
				err = pe.Err
			}
			lines = append(lines, ParsedLine{Line: line, Err: err})
			if errCount++; errCount >= maxLineErrors {
				break
			}
			continue
		}
		line, _ := cr.FieldPos(0)
		if pl, ok := buildLine(header, rec, line); ok {
			lines = append(lines, pl)
		}
	}
	return lines, nil
}

// ParseXLSXLines reads the first worksheet of an XLSX workbook.
func ParseXLSXLines(r io.Reader) ([]ParsedLine, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Errors: []LineError{{Line: 0, Reason: fmt.Sprintf("unreadable workbook: %v", err)}}}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Errors: []LineError{{Line: 1, Reason: "workbook has no sheets"}}}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Errors: []LineError{{Line: 0, Reason: fmt.Sprintf("read sheet %q: %v", sheets[0], err)}}}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Errors: []LineError{{Line: 1, Reason: "file is empty"}}}
	}
	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var lines []ParsedLine
	for i, rec := range rows[1:] {
		if pl, ok := buildLine(header, rec, i+2); ok {
			lines = append(lines, pl)
		}
	}
	return lines, nil
}

func checkHeader(header []string) error {
	for _, h := range header {
		if canonicalHeader(h) == ColSKU {
			return nil
		}
	}
	return &ParseError{Errors: []LineError{{Line: 1, Reason: "missing required column: sku"}}}
}

// buildLine maps one record onto the header. The bool is false for blank
// lines, which are not data.
func buildLine(header, rec []string, line int) (ParsedLine, bool) {
	blank := true
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			blank = false
			break
		}
	}
	if blank {
		return ParsedLine{}, false
	}
	if len(rec) > len(header) {
		for _, extra := range rec[len(header):] {
			if strings.TrimSpace(extra) != "" {
				return ParsedLine{
					Line: line,
					Err:  fmt.Errorf("row has %d fields, header has %d", len(rec), len(header)),
				}, true
			}
		}
	}

	row := models.RawRow{Line: line, Fields: make(map[string]string, len(header))}
	for i, h := range header {
		key := strings.TrimSpace(h)
		val := ""
		if i < len(rec) {
			val = rec[i]
		}
		row.Fields[key] = val
		assignColumn(&row, canonicalHeader(key), val)
	}
	return ParsedLine{Line: line, Row: row}, true
}

func assignColumn(row *models.RawRow, col, val string) {
	switch col {
	case ColSKU:
		row.SKU = val
	case ColName:
		row.Name = val
	case ColDescription:
		row.Description = val
	case ColSilhouette:
		row.Silhouette = val
	case ColGender:
		row.Gender = val
	case ColCategory:
		row.Category = val
	case ColBrand:
		row.BrandName = val
	case ColDepartment:
		row.Department = val
	case ColStatus:
		row.Status = val
	case ColSize:
		row.Size = val
	case ColSimpleCurve:
		row.SimpleCurve = val
	case ColReinforcedCurve:
		row.ReinforcedCurve = val
	case ColAvailableQty:
		row.AvailableQty = val
	case ColPrice:
		row.Price = val
	default:
		for i := 1; i <= models.MaxImageColumns; i++ {
			if col == imageColumn(i) {
				row.Images[i-1] = val
				return
			}
		}
	}
}

// detectDelimiter picks the most frequent of , ; and tab on the first line.
func detectDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestCount := ',', bytes.Count(first, []byte{','})
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}
