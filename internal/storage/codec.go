package storage

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/yourusername/backtest-cache/internal/models"
)

func encodeRecord(record *models.BacktestRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*models.BacktestRecord, error) {
	record := &models.BacktestRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return record, nil
}
