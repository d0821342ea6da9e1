package hashing

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/backtest-cache/internal/canonical"
	"github.com/yourusername/backtest-cache/internal/models"
)

const sampleCSV = `Date,Open,High,Low,Close,Volume
2023-01-01,100,101,99,100.5,1000
2023-01-02,100.5,102,100,101.5,1100
2023-01-03,101.5,103,101,102,1200
2023-01-04,102,102.5,100.5,101,900
2023-01-05,101,101.5,99.5,100,950
`

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestHashContentDeterministic(t *testing.T) {
	first := HashContent([]byte(sampleCSV))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, HashContent([]byte(sampleCSV)))
	}
	assert.Regexp(t, hexDigest, first)
}

func TestHashContentEmpty(t *testing.T) {
	empty := HashContent(nil)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)
	assert.Equal(t, empty, HashContent([]byte{}))
}

func TestHashContentAvalanche(t *testing.T) {
	a := HashContent([]byte("Date,Open,High,Low,Close,Volume\n2023-01-01,100,101,99,100,1000"))
	b := HashContent([]byte("Date,Open,High,Low,Close,Volume\n2023-01-01,100,101,99,100,1001"))
	require.NotEqual(t, a, b)

	differing := 0
	for i := range a {
		if a[i] != b[i] {
			differing++
		}
	}
	assert.Greater(t, float64(differing), float64(len(a))*0.4)
}

func TestHashStructuredKeyOrder(t *testing.T) {
	h1, err := HashStructured(map[string]any{"type": "sma_cross", "fast": 10, "slow": 20})
	require.NoError(t, err)
	h2, err := HashStructured(map[string]any{"slow": 20, "fast": 10, "type": "sma_cross"})
	require.NoError(t, err)
	h3, err := HashStructured(map[string]any{"fast": 10, "type": "sma_cross", "slow": 20})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, h2, h3)
}

func TestHashStructuredValueSensitivity(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{"slow window", map[string]any{"fast": 10, "slow": 20}, map[string]any{"fast": 10, "slow": 21}},
		{"commission precision", map[string]any{"commission": 0.002}, map[string]any{"commission": 0.0020001}},
		{"nested value", map[string]any{"exit": map[string]any{"stop": 0.05}}, map[string]any{"exit": map[string]any{"stop": 0.06}}},
		{"type change", map[string]any{"flag": true}, map[string]any{"flag": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, err := HashStructured(tt.a)
			require.NoError(t, err)
			hb, err := HashStructured(tt.b)
			require.NoError(t, err)
			assert.NotEqual(t, ha, hb)
		})
	}
}

func TestHashStructuredInvalidUTF8DoesNotCollide(t *testing.T) {
	_, errFF := HashStructured(map[string]any{"symbol": "AB\xff"})
	_, errFE := HashStructured(map[string]any{"symbol": "AB\xfe"})
	assert.ErrorIs(t, errFF, canonical.ErrUnsupportedValue)
	assert.ErrorIs(t, errFE, canonical.ErrUnsupportedValue)

	valid, err := HashStructured(map[string]any{"symbol": "AB\uFFFD"})
	require.NoError(t, err)
	assert.Len(t, valid, 64)
}

func TestHashStructuredEmptyMapping(t *testing.T) {
	h, err := HashStructured(map[string]any{})
	require.NoError(t, err)
	assert.Regexp(t, hexDigest, h)
	assert.Equal(t, HashContent([]byte("{}")), h)
}

func TestHashStructuredPropagatesCanonicalizationError(t *testing.T) {
	_, err := HashStructured(map[string]any{"mixed": []any{1, "a"}})
	require.Error(t, err)

	var cerr *canonical.CanonicalizationError
	assert.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, canonical.ErrUnsortable)
}

func TestDeriveMasterHash(t *testing.T) {
	a := HashContent([]byte("a"))
	b := HashContent([]byte("b"))
	c := HashContent([]byte("c"))

	master := DeriveMasterHash(a, b, c)
	assert.Regexp(t, hexDigest, master)
	assert.Equal(t, master, DeriveMasterHash(a, b, c))
	assert.NotEqual(t, master, DeriveMasterHash(b, a, c))
	assert.NotEqual(t, master, DeriveMasterHash(a, c, b))
	assert.Equal(t, HashContent([]byte(a+":"+b+":"+c)), master)
}

func TestComputeIdentityScenario(t *testing.T) {
	config := map[string]any{"fast": 10, "slow": 20}
	params := map[string]any{"commission": 0.002, "initial_capital": 10000, "slippage": 0.001}

	// the same content uploaded as "prices.csv" and "copy of prices.csv"
	first, err := ComputeIdentity([]byte(sampleCSV), config, params)
	require.NoError(t, err)
	second, err := ComputeIdentity([]byte(sampleCSV), map[string]any{"slow": 20, "fast": 10}, map[string]any{
		"slippage": 0.001, "initial_capital": 10000, "commission": 0.002,
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, HashContent([]byte(sampleCSV)), first.DataHash())
	assert.Equal(t, DeriveMasterHash(first.DataHash(), first.ConfigHash(), first.ParamsHash()), first.MasterHash())

	changed, err := ComputeIdentity([]byte(sampleCSV), map[string]any{"fast": 10, "slow": 21}, params)
	require.NoError(t, err)
	assert.Equal(t, first.DataHash(), changed.DataHash())
	assert.NotEqual(t, first.ConfigHash(), changed.ConfigHash())
	assert.NotEqual(t, first.MasterHash(), changed.MasterHash())
}

func TestComputeIdentityEmptyInputs(t *testing.T) {
	id, err := ComputeIdentity(nil, map[string]any{}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, id.ConfigHash(), id.ParamsHash())
	assert.NoError(t, models.ValidateHash(id.MasterHash()))
}

func TestComputeIdentityRejectsUnsortableConfig(t *testing.T) {
	_, err := ComputeIdentity([]byte(sampleCSV), map[string]any{"weights": []any{1, "a"}}, map[string]any{})
	assert.ErrorIs(t, err, canonical.ErrUnsortable)
	assert.Contains(t, err.Error(), "config hash")
}

func TestComputeIdentityOrderedSeriesOptIn(t *testing.T) {
	params := map[string]any{"schedule": canonical.Sequence{"2023-01-02", "2023-01-01"}}
	reversed := map[string]any{"schedule": canonical.Sequence{"2023-01-01", "2023-01-02"}}

	a, err := ComputeIdentity([]byte(sampleCSV), map[string]any{}, params)
	require.NoError(t, err)
	b, err := ComputeIdentity([]byte(sampleCSV), map[string]any{}, reversed)
	require.NoError(t, err)
	assert.NotEqual(t, a.ParamsHash(), b.ParamsHash())
}
