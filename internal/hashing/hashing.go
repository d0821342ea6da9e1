// Package hashing derives the content-addressed identity of a backtest from its raw data,
// strategy configuration and run parameters.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/yourusername/backtest-cache/internal/canonical"
	"github.com/yourusername/backtest-cache/internal/models"
)

// masterDelimiter never appears in a hex digest.
const masterDelimiter = ":"

// HashContent returns the SHA-256 digest of raw bytes. File names and upload times play
// no part: identical content always yields the same digest.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashStructured canonicalizes v and digests the canonical serialization. Errors from
// canonicalization are returned unchanged so callers can match them with errors.As.
func HashStructured(v any) (string, error) {
	data, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	return HashContent(data), nil
}

// DeriveMasterHash combines the three component digests in the fixed order
// data:config:params. Permuting the inputs changes the result.
func DeriveMasterHash(dataHash, configHash, paramsHash string) string {
	return HashContent([]byte(dataHash + masterDelimiter + configHash + masterDelimiter + paramsHash))
}

// ComputeIdentity derives all four digests for a (data, config, params) triple.
func ComputeIdentity(rawData []byte, config, params any) (models.BacktestIdentity, error) {
	dataHash := HashContent(rawData)
	configHash, err := HashStructured(config)
	if err != nil {
		return models.BacktestIdentity{}, fmt.Errorf("config hash: %w", err)
	}
	paramsHash, err := HashStructured(params)
	if err != nil {
		return models.BacktestIdentity{}, fmt.Errorf("params hash: %w", err)
	}
	return models.NewBacktestIdentity(
		dataHash,
		configHash,
		paramsHash,
		DeriveMasterHash(dataHash, configHash, paramsHash),
	)
}
