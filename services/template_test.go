package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSVTemplateParsesBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSVTemplate(&buf))

	rows, err := ParseFile("template.csv", &buf, ParseOptions{})
	require.NoError(t, err)
	res := GroupRows("brand-1", rows)
	require.Len(t, res.Products, 1)
	p := res.Products[0]
	assert.Equal(t, "A1", p.SKU)
	assert.Equal(t, "Acme", p.BrandName)
	assert.Equal(t, []string{"https://cdn.example.com/a1.jpg"}, p.Images)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, "M", p.Variants[0].Size)
	assert.Equal(t, 4, p.Variants[0].ReinforcedCurve)
}

func TestXLSXTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSXTemplate(&buf))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{templateSheet}, f.GetSheetList())

	rows, err := ParseFile("template.xlsx", bytes.NewReader(buf.Bytes()), ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "59.90", rows[0].Price)
}
