package service

import (
	"bytes"
	"encoding/csv"

	"github.com/yourusername/backtest-cache/internal/models"
)

// DescribeData summarizes an input file. Rows counts CSV data rows, excluding the header.
func DescribeData(filename string, data []byte) models.DataDescription {
	return models.DataDescription{
		Filename:  filename,
		SizeBytes: int64(len(data)),
		Rows:      countDataRows(data),
	}
}

// countDataRows stops at the end of input or the first malformed record.
func countDataRows(data []byte) int {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	n := 0
	for {
		if _, err := reader.Read(); err != nil {
			break
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return n - 1
}
