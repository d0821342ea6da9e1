package models

import (
	"github.com/goccy/go-json"
)

// HashLength is the hex width of a SHA-256 digest.
const HashLength = 64

// BacktestIdentity is the immutable fingerprint of a backtest run. It is separate from
// the metadata because identity never changes while access statistics do.
type BacktestIdentity struct {
	dataHash   string
	configHash string
	paramsHash string
	masterHash string
}

type identityJSON struct {
	DataHash   string `json:"data_hash"`
	ConfigHash string `json:"config_hash"`
	ParamsHash string `json:"params_hash"`
	MasterHash string `json:"master_hash"`
}

// NewBacktestIdentity validates all four digests. Malformed input is rejected, never
// corrected.
func NewBacktestIdentity(dataHash, configHash, paramsHash, masterHash string) (BacktestIdentity, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"data_hash", dataHash},
		{"config_hash", configHash},
		{"params_hash", paramsHash},
		{"master_hash", masterHash},
	}
	for _, f := range fields {
		if !isHexDigest(f.value) {
			return BacktestIdentity{}, &InvalidIdentityError{Field: f.name, Value: f.value}
		}
	}
	return BacktestIdentity{
		dataHash:   dataHash,
		configHash: configHash,
		paramsHash: paramsHash,
		masterHash: masterHash,
	}, nil
}

// ValidateHash checks a single digest, e.g. a lookup key supplied by a caller.
func ValidateHash(hash string) error {
	if !isHexDigest(hash) {
		return &InvalidIdentityError{Field: "hash", Value: hash}
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (id BacktestIdentity) DataHash() string   { return id.dataHash }
func (id BacktestIdentity) ConfigHash() string { return id.configHash }
func (id BacktestIdentity) ParamsHash() string { return id.paramsHash }
func (id BacktestIdentity) MasterHash() string { return id.masterHash }

// IsZero reports whether the identity was never constructed.
func (id BacktestIdentity) IsZero() bool {
	return id.masterHash == ""
}

// MarshalJSON implements json.Marshaler.
func (id BacktestIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{
		DataHash:   id.dataHash,
		ConfigHash: id.configHash,
		ParamsHash: id.paramsHash,
		MasterHash: id.masterHash,
	})
}

// UnmarshalJSON validates the decoded digests.
func (id *BacktestIdentity) UnmarshalJSON(data []byte) error {
	var wire identityJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	parsed, err := NewBacktestIdentity(wire.DataHash, wire.ConfigHash, wire.ParamsHash, wire.MasterHash)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
