package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	f, err := DetectFormat("sentences.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = DetectFormat("/tmp/batch/input.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = DetectFormat("notes.txt")
	assert.Error(t, err)
}

func TestReadCSVRaggedRows(t *testing.T) {
	data := "\ufeffid,a,b,c,d,text\n1,,,,,猫が好き\n2,x\n"
	rows, err := ReadTable(FormatCSV, strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "猫が好き", Cell(rows[1], 5))
	assert.Equal(t, "", Cell(rows[2], 5))
}

func TestCSVRoundTrip(t *testing.T) {
	rows := [][]string{{"a", "b, with comma"}, {"日本語", `quote "x"`}}
	b, err := WriteTable(FormatCSV, rows)
	require.NoError(t, err)

	back, err := ReadTable(FormatCSV, bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}

func TestXLSXRoundTrip(t *testing.T) {
	rows := [][]string{
		{"id", "", "", "", "", "text", "CorrectedText"},
		{"1", "", "", "", "", "水は飲みました", "水を飲みました"},
	}
	b, err := WriteTable(FormatXLSX, rows)
	require.NoError(t, err)

	back, err := ReadTable(FormatXLSX, bytes.NewReader(b))
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, "text", Cell(back[0], 5))
	assert.Equal(t, "水を飲みました", Cell(back[1], 6))
}

func TestSetCellGrowsRow(t *testing.T) {
	row := SetCell([]string{"a"}, 3, "d")
	assert.Equal(t, []string{"a", "", "", "d"}, row)
	assert.Equal(t, "", Cell(row, -1))
	assert.Equal(t, "", Cell(row, 10))
}

func TestImportCards(t *testing.T) {
	rows := [][]string{
		{"front", "back", "reading", "level"},
		{"猫", "cat", "ねこ", "n5"},
		{"", "dog", "いぬ", "N5"},
		{"猫", "cat again", "", ""},
		{"【勉強】", "study", "べんきょう", "4"},
	}

	res := ImportCards(rows, DefaultImportConfig())
	assert.Equal(t, 4, res.TotalProcessed)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Cards, 2)
	assert.Equal(t, "猫", res.Cards[0].Front)
	assert.Equal(t, "N5", res.Cards[0].JLPTLevel)
	assert.Equal(t, "勉強", res.Cards[1].Front)
	assert.Equal(t, "N4", res.Cards[1].JLPTLevel)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Row 3")
}

func TestColumnToIndex(t *testing.T) {
	assert.Equal(t, 0, columnToIndex("A"))
	assert.Equal(t, 5, columnToIndex("f"))
	assert.Equal(t, 26, columnToIndex("AA"))
}
