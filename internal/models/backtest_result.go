package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// BacktestResult is the computed output of a backtest. It is built once and never
// mutated. The full raw output is kept as an opaque blob so the summary and equity curve
// can be inspected without decoding it.
type BacktestResult struct {
	rawResults  []byte
	summary     map[string]any
	equityCurve []map[string]any
	trades      []map[string]any
}

type resultJSON struct {
	RawResults  []byte           `json:"raw_results"`
	Summary     map[string]any   `json:"summary"`
	EquityCurve []map[string]any `json:"equity_curve"`
	Trades      []map[string]any `json:"trades"`
}

// NewBacktestResult takes ownership of a copy of raw. summary, equityCurve and trades
// must already hold JSON-decoded values (float64 numbers, []any lists) so that the
// result compares equal after a trip through any backend.
func NewBacktestResult(raw []byte, summary map[string]any, equityCurve, trades []map[string]any) BacktestResult {
	owned := make([]byte, len(raw))
	copy(owned, raw)
	if summary == nil {
		summary = map[string]any{}
	}
	if equityCurve == nil {
		equityCurve = []map[string]any{}
	}
	if trades == nil {
		trades = []map[string]any{}
	}
	return BacktestResult{
		rawResults:  owned,
		summary:     summary,
		equityCurve: equityCurve,
		trades:      trades,
	}
}

// NewResultFromSimulation builds a result from a simulation's output. The whole output
// becomes the raw blob; "summary" (or "stats"), "equity_curve" and "trades" are lifted out
// of the decoded blob, so they hold the same values a persistent backend returns and
// share no memory with simulation.
func NewResultFromSimulation(simulation map[string]any) (BacktestResult, error) {
	raw, err := json.Marshal(simulation)
	if err != nil {
		return BacktestResult{}, fmt.Errorf("failed to encode simulation output: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return BacktestResult{}, fmt.Errorf("failed to decode simulation output: %w", err)
	}

	summary, err := toMapping(firstPresent(decoded, "summary", "stats"))
	if err != nil {
		return BacktestResult{}, fmt.Errorf("%w: summary: %v", ErrInvalidRecord, err)
	}
	curve, err := toRows(decoded["equity_curve"])
	if err != nil {
		return BacktestResult{}, fmt.Errorf("%w: equity_curve: %v", ErrInvalidRecord, err)
	}
	trades, err := toRows(decoded["trades"])
	if err != nil {
		return BacktestResult{}, fmt.Errorf("%w: trades: %v", ErrInvalidRecord, err)
	}

	return BacktestResult{rawResults: raw, summary: summary, equityCurve: curve, trades: trades}, nil
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}

func toMapping(v any) (map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return x, nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
}

func toRows(v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return []map[string]any{}, nil
	case []map[string]any:
		return x, nil
	case []any:
		rows := make([]map[string]any, 0, len(x))
		for i, item := range x {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d: expected a mapping, got %T", i, item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("expected a list of mappings, got %T", v)
	}
}

// RawResults returns a copy of the opaque blob.
func (r BacktestResult) RawResults() []byte {
	out := make([]byte, len(r.rawResults))
	copy(out, r.rawResults)
	return out
}

// Decode unpacks the raw blob into v.
func (r BacktestResult) Decode(v any) error {
	if len(r.rawResults) == 0 {
		return fmt.Errorf("%w: no raw results", ErrInvalidRecord)
	}
	if err := json.Unmarshal(r.rawResults, v); err != nil {
		return fmt.Errorf("failed to decode raw results: %w", err)
	}
	return nil
}

// Summary, EquityCurve and Trades are shared with the result and must be treated as
// read-only.
func (r BacktestResult) Summary() map[string]any        { return r.summary }
func (r BacktestResult) EquityCurve() []map[string]any { return r.equityCurve }
func (r BacktestResult) Trades() []map[string]any      { return r.trades }

// MarshalJSON implements json.Marshaler.
func (r BacktestResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		RawResults:  r.rawResults,
		Summary:     r.summary,
		EquityCurve: r.equityCurve,
		Trades:      r.trades,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *BacktestResult) UnmarshalJSON(data []byte) error {
	var wire resultJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = NewBacktestResult(wire.RawResults, wire.Summary, wire.EquityCurve, wire.Trades)
	return nil
}
