package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/yourusername/backtest-cache/internal/canonical"
	"github.com/yourusername/backtest-cache/internal/config"
	"github.com/yourusername/backtest-cache/internal/hashing"
	"github.com/yourusername/backtest-cache/internal/metrics"
	"github.com/yourusername/backtest-cache/internal/models"
)

const (
	sectionConfig = "config"
	sectionParams = "params"
)

// Identify derives the content identity of req. Under the exclude policy top-level
// config and params fields that cannot be ordered are dropped before hashing; any other
// canonicalization failure is returned.
func (s *BacktestCacheService) Identify(ctx context.Context, req Request) (models.BacktestIdentity, error) {
	if err := ctx.Err(); err != nil {
		return models.BacktestIdentity{}, err
	}

	cfg, err := s.hashable(sectionConfig, req.Config)
	if err != nil {
		return models.BacktestIdentity{}, err
	}
	params, err := s.hashable(sectionParams, req.Params)
	if err != nil {
		return models.BacktestIdentity{}, err
	}
	return hashing.ComputeIdentity(req.Data, cfg, params)
}

func (s *BacktestCacheService) hashable(section string, v any) (any, error) {
	_, err := canonical.Marshal(v)
	if err == nil {
		return v, nil
	}

	fields, isMapping := v.(map[string]any)
	if s.opts.UnsortablePolicy != config.UnsortableExclude || !isMapping || !errors.Is(err, canonical.ErrUnsortable) {
		metrics.RecordCanonicalizationFailure(section, config.UnsortableReject)
		return nil, fmt.Errorf("%s hash: %w", section, err)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kept := make(map[string]any, len(fields))
	for _, key := range keys {
		_, err := canonical.Marshal(fields[key])
		switch {
		case err == nil:
			kept[key] = fields[key]
		case errors.Is(err, canonical.ErrUnsortable):
			metrics.RecordCanonicalizationFailure(section, config.UnsortableExclude)
			s.cacheLog.LogCanonicalizationFallback(section, key, err)
		default:
			metrics.RecordCanonicalizationFailure(section, config.UnsortableReject)
			return nil, fmt.Errorf("%s hash: field %q: %w", section, key, err)
		}
	}
	return kept, nil
}
