package excel

import (
	"fmt"
	"strings"

	"github.com/example/kotoba/pkg/models"
)

// ImportConfig defines which columns hold flashcard fields
type ImportConfig struct {
	FrontColumn   string // Column with the Japanese prompt
	BackColumn    string // Column with the meaning
	ReadingColumn string // Column with the kana reading
	LevelColumn   string // Column with the JLPT level
	StartRow      int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		FrontColumn:   "A",
		BackColumn:    "B",
		ReadingColumn: "C",
		LevelColumn:   "D",
		StartRow:      2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Cards          []models.Card
	Skipped        int
	Errors         []string
}

// ImportCards turns deck rows into cards. Rows without a front or back are
// reported and skipped; duplicates of an earlier front are skipped silently.
func ImportCards(rows [][]string, config ImportConfig) *ImportResult {
	result := &ImportResult{Errors: make([]string, 0)}
	seen := make(map[string]bool)

	for i, row := range rows {
		if i < config.StartRow-1 {
			continue
		}
		result.TotalProcessed++

		card, err := processRow(row, config)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		if seen[card.Front] {
			result.Skipped++
			continue
		}
		seen[card.Front] = true
		result.Cards = append(result.Cards, card)
	}

	return result
}

// processRow processes a single deck row
func processRow(row []string, config ImportConfig) (models.Card, error) {
	card := models.Card{
		Front:     cleanText(Cell(row, columnToIndex(config.FrontColumn))),
		Back:      cleanText(Cell(row, columnToIndex(config.BackColumn))),
		JLPTLevel: normalizeLevel(Cell(row, columnToIndex(config.LevelColumn))),
	}
	if config.ReadingColumn != "" {
		card.Reading = cleanText(Cell(row, columnToIndex(config.ReadingColumn)))
	}

	if card.Front == "" {
		return card, fmt.Errorf("front cannot be empty")
	}
	if card.Back == "" {
		return card, fmt.Errorf("back cannot be empty")
	}
	return card, nil
}

// cleanText trims whitespace and surrounding brackets such as 【】 or []
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"")
	s = strings.TrimPrefix(s, "【")
	s = strings.TrimSuffix(s, "】")
	return strings.TrimSpace(s)
}

// normalizeLevel maps "n3", "N3 ", "3" to "N3"; anything else becomes ""
func normalizeLevel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "N")
	if len(s) == 1 && s[0] >= '1' && s[0] <= '5' {
		return "N" + s
	}
	return ""
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
