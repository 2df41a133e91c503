package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "ecosim/internal/errors"
	"ecosim/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, path, sheet string, rows [][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestDataReader_CSV(t *testing.T) {
	dir := t.TempDir()
	path := testkit.WriteCSV(t, dir, "counties.csv", testkit.ScenarioTable())

	table, err := NewDataReader(DefaultReaderConfig(), nil).ReadTable(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 5, table.Len())
	assert.True(t, table.HasColumn("PM2.5"))
	pesticides, err := table.Column("Pesticides")
	require.NoError(t, err)
	assert.Equal(t, "", pesticides[4])
}

func TestDataReader_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counties.xlsx")
	writeXLSX(t, path, "CES", [][]interface{}{
		{"County", "Traffic", "Asthma"},
		{"Alameda", 1450, 58.1},
		{},
		{"Marin", 690},
	})

	table, err := NewDataReader(ReaderConfig{Sheet: "CES"}, nil).ReadTable(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"County", "Traffic", "Asthma"}, table.Headers)
	require.Equal(t, 2, table.Len(), "blank row dropped")
	asthma, err := table.Column("Asthma")
	require.NoError(t, err)
	assert.Equal(t, []string{"58.1", ""}, asthma)
}

func TestDataReader_MissingSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counties.xlsx")
	writeXLSX(t, path, "Sheet1", [][]interface{}{{"County"}, {"Kern"}})

	_, err := NewDataReader(ReaderConfig{Sheet: "Nope"}, nil).ReadTable(context.Background(), path)
	assert.Error(t, err)
}

func TestDataReader_Errors(t *testing.T) {
	dir := t.TempDir()
	reader := NewDataReader(DefaultReaderConfig(), nil)

	_, err := reader.ReadTable(context.Background(), filepath.Join(dir, "absent.csv"))
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))

	json := filepath.Join(dir, "table.json")
	require.NoError(t, os.WriteFile(json, []byte("{}"), 0o644))
	_, err = reader.ReadTable(context.Background(), json)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	headerOnly := filepath.Join(dir, "header.csv")
	require.NoError(t, os.WriteFile(headerOnly, []byte("County,Traffic\n"), 0o644))
	_, err = reader.ReadTable(context.Background(), headerOnly)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	dup := filepath.Join(dir, "dup.csv")
	require.NoError(t, os.WriteFile(dup, []byte("County,County\nKern,Kern\n"), 0o644))
	_, err = reader.ReadTable(context.Background(), dup)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}
