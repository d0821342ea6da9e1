package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/yourusername/backtest-cache/internal/database"
	"github.com/yourusername/backtest-cache/internal/models"
)

const (
	backendPostgres = "postgres"

	// cleanupBatchSize bounds how many rows one cleanup statement removes.
	cleanupBatchSize = 100

	// capacityLockID serializes inserts of new keys when MaxRecords is set.
	capacityLockID int64 = 0x6274636163686501

	recordColumns = `master_hash, data_hash, config_hash, params_hash,
		created_at, last_accessed, access_count, execution_time_seconds,
		data_filename, data_size_bytes, data_rows,
		raw_results, summary, equity_curve, trades`
)

// PostgresStorage keeps one row per record. Secondary lookups use indexes on the
// data_hash and config_hash columns.
type PostgresStorage struct {
	db    *database.DB
	table string
	opts  Options
	stats statsCounter
	owned bool
}

// NewPostgresStorage uses db for the given table. The table name must already be a
// valid SQL identifier; config validation enforces that.
func NewPostgresStorage(db *database.DB, table string, opts Options) *PostgresStorage {
	return &PostgresStorage{db: db, table: table, opts: opts}
}

// EnsureSchema creates the table and its indexes when missing.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			master_hash TEXT PRIMARY KEY,
			data_hash TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			params_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ NOT NULL,
			access_count BIGINT NOT NULL,
			execution_time_seconds DOUBLE PRECISION NOT NULL,
			data_filename TEXT NOT NULL,
			data_size_bytes BIGINT NOT NULL,
			data_rows INTEGER NOT NULL,
			raw_results BYTEA NOT NULL,
			summary JSONB NOT NULL,
			equity_curve JSONB NOT NULL,
			trades JSONB NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_data_hash_idx ON %s (data_hash)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_config_hash_idx ON %s (config_hash)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.db.GetPool().Exec(ctx, stmt); err != nil {
			return ioError(backendPostgres, "ensure_schema", err)
		}
	}
	return nil
}

// Store implements Storage.
func (s *PostgresStorage) Store(ctx context.Context, record *models.BacktestRecord) error {
	if err := record.Validate(); err != nil {
		return newError(backendPostgres, "store", err)
	}
	args, err := recordArgs(record)
	if err != nil {
		return newError(backendPostgres, "store", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (master_hash) DO UPDATE SET
			data_hash = EXCLUDED.data_hash,
			config_hash = EXCLUDED.config_hash,
			params_hash = EXCLUDED.params_hash,
			created_at = EXCLUDED.created_at,
			last_accessed = EXCLUDED.last_accessed,
			access_count = EXCLUDED.access_count,
			execution_time_seconds = EXCLUDED.execution_time_seconds,
			data_filename = EXCLUDED.data_filename,
			data_size_bytes = EXCLUDED.data_size_bytes,
			data_rows = EXCLUDED.data_rows,
			raw_results = EXCLUDED.raw_results,
			summary = EXCLUDED.summary,
			equity_curve = EXCLUDED.equity_curve,
			trades = EXCLUDED.trades
	`, s.table, recordColumns)

	if s.opts.MaxRecords <= 0 {
		if _, err := s.db.GetPool().Exec(ctx, upsert, args...); err != nil {
			return ioError(backendPostgres, "store", err)
		}
		return nil
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", capacityLockID); err != nil {
			return err
		}
		var exists bool
		var count int
		query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE master_hash = $1), (SELECT COUNT(*) FROM %s)`, s.table, s.table)
		if err := tx.QueryRow(ctx, query, record.MasterHash()).Scan(&exists, &count); err != nil {
			return err
		}
		if !exists && s.opts.full(count) {
			return ErrStorageFull
		}
		_, err := tx.Exec(ctx, upsert, args...)
		return err
	})
	if errors.Is(err, ErrStorageFull) {
		return newError(backendPostgres, "store", ErrStorageFull)
	}
	if err != nil {
		return ioError(backendPostgres, "store", err)
	}
	return nil
}

// Get implements Storage. The access update and the read are one statement, so
// concurrent hits on the same row each count exactly once.
func (s *PostgresStorage) Get(ctx context.Context, masterHash string) (*models.BacktestRecord, bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET
			access_count = access_count + 1,
			last_accessed = GREATEST(last_accessed, $2)
		WHERE master_hash = $1
		RETURNING %s
	`, s.table, recordColumns)

	record, err := scanRecord(s.db.GetPool().QueryRow(ctx, query, masterHash, s.opts.now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		s.stats.miss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(backendPostgres, "get", err)
	}
	s.stats.hit()
	return record, true, nil
}

// Exists implements Storage.
func (s *PostgresStorage) Exists(ctx context.Context, masterHash string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE master_hash = $1)`, s.table)
	if err := s.db.GetPool().QueryRow(ctx, query, masterHash).Scan(&exists); err != nil {
		return false, ioError(backendPostgres, "exists", err)
	}
	return exists, nil
}

// GetByDataHash implements Storage.
func (s *PostgresStorage) GetByDataHash(ctx context.Context, dataHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_data_hash", "data_hash", dataHash)
}

// GetByConfigHash implements Storage.
func (s *PostgresStorage) GetByConfigHash(ctx context.Context, configHash string) ([]*models.BacktestRecord, error) {
	return s.related(ctx, "get_by_config_hash", "config_hash", configHash)
}

func (s *PostgresStorage) related(ctx context.Context, op, column, value string) ([]*models.BacktestRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY created_at, master_hash`, recordColumns, s.table, column)
	rows, err := s.db.GetPool().Query(ctx, query, value)
	if err != nil {
		return nil, ioError(backendPostgres, op, err)
	}
	defer rows.Close()

	records := []*models.BacktestRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, ioError(backendPostgres, op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(backendPostgres, op, err)
	}
	// timestamps tie at microsecond precision; keep the same order as the other backends
	sortRecords(records)
	return records, nil
}

// Delete implements Storage.
func (s *PostgresStorage) Delete(ctx context.Context, masterHash string) (bool, error) {
	tag, err := s.db.GetPool().Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE master_hash = $1`, s.table), masterHash)
	if err != nil {
		return false, ioError(backendPostgres, "delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cleanup implements Storage. Rows are removed in small batches so cancellation takes
// effect between batches. Each batch is one paced delete operation.
func (s *PostgresStorage) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, newError(backendPostgres, "cleanup", ErrInvalidMaxAge)
	}
	cutoff := s.opts.cutoff(maxAgeDays).UTC()
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE master_hash IN (
			SELECT master_hash FROM %s WHERE created_at < $1 ORDER BY created_at LIMIT $2
		)
	`, s.table, s.table)

	deleted := 0
	for {
		if err := s.opts.pace(ctx); err != nil {
			return deleted, newError(backendPostgres, "cleanup", err)
		}
		tag, err := s.db.GetPool().Exec(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			return deleted, ioError(backendPostgres, "cleanup", err)
		}
		n := int(tag.RowsAffected())
		deleted += n
		if n < cleanupBatchSize {
			return deleted, nil
		}
	}
}

// Stats implements Storage.
func (s *PostgresStorage) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	query := fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT data_hash), COUNT(DISTINCT config_hash) FROM %s`, s.table)
	err := s.db.GetPool().QueryRow(ctx, query).Scan(&stats.TotalRecords, &stats.TotalDataHashes, &stats.TotalConfigHashes)
	if err != nil {
		return models.CacheStats{}, ioError(backendPostgres, "stats", err)
	}
	s.stats.fill(&stats)
	return stats, nil
}

// ClearAll implements Storage.
func (s *PostgresStorage) ClearAll(ctx context.Context) error {
	if _, err := s.db.GetPool().Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.table)); err != nil {
		return ioError(backendPostgres, "clear_all", err)
	}
	s.stats.reset()
	return nil
}

// Ping implements Storage.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := s.db.HealthCheck(ctx); err != nil {
		return ioError(backendPostgres, "ping", err)
	}
	return nil
}

// Close releases the pool when the storage opened it.
func (s *PostgresStorage) Close() error {
	if s.owned {
		s.db.Close()
	}
	return nil
}

func recordArgs(record *models.BacktestRecord) ([]any, error) {
	summary, err := json.Marshal(record.Result.Summary())
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	curve, err := json.Marshal(record.Result.EquityCurve())
	if err != nil {
		return nil, fmt.Errorf("failed to encode equity curve: %w", err)
	}
	trades, err := json.Marshal(record.Result.Trades())
	if err != nil {
		return nil, fmt.Errorf("failed to encode trades: %w", err)
	}

	id := record.Identity
	meta := record.Metadata
	return []any{
		id.MasterHash(), id.DataHash(), id.ConfigHash(), id.ParamsHash(),
		meta.CreatedAt(), meta.LastAccessed(), meta.AccessCount(), meta.ExecutionTimeSeconds,
		meta.DataFilename, meta.DataSizeBytes, meta.DataRows,
		record.Result.RawResults(), summary, curve, trades,
	}, nil
}

func scanRecord(row pgx.Row) (*models.BacktestRecord, error) {
	var (
		masterHash, dataHash, configHash, paramsHash string
		createdAt, lastAccessed                      time.Time
		accessCount                                  int64
		executionSeconds                             float64
		filename                                     string
		sizeBytes                                    int64
		rows                                         int
		raw, summaryJSON, curveJSON, tradesJSON      []byte
	)
	if err := row.Scan(
		&masterHash, &dataHash, &configHash, &paramsHash,
		&createdAt, &lastAccessed, &accessCount, &executionSeconds,
		&filename, &sizeBytes, &rows,
		&raw, &summaryJSON, &curveJSON, &tradesJSON,
	); err != nil {
		return nil, err
	}

	identity, err := models.NewBacktestIdentity(dataHash, configHash, paramsHash, masterHash)
	if err != nil {
		return nil, err
	}

	var summary map[string]any
	var curve, trades []map[string]any
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	if err := json.Unmarshal(curveJSON, &curve); err != nil {
		return nil, fmt.Errorf("failed to decode equity curve: %w", err)
	}
	if err := json.Unmarshal(tradesJSON, &trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}

	metadata := models.RestoreMetadata(createdAt, lastAccessed, accessCount, executionSeconds, models.DataDescription{
		Filename:  filename,
		SizeBytes: sizeBytes,
		Rows:      rows,
	})
	return &models.BacktestRecord{
		Identity: identity,
		Metadata: metadata,
		Result:   models.NewBacktestResult(raw, summary, curve, trades),
	}, nil
}
