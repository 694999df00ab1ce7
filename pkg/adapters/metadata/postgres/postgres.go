package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// runQuery matches a run either by its string id or by its number. The
// metadata service stores ts_epoch in milliseconds and last_heartbeat_ts
// in seconds.
const runQuery = `
SELECT flow_id, run_number, run_id, ts_epoch, last_heartbeat_ts
FROM runs_v3
WHERE flow_id = $1 AND (run_id = $2 OR CAST(run_number AS TEXT) = $2)
LIMIT 1`

// Config holds metadata database settings
type Config struct {
	DSN          string
	PingTimeout  time.Duration
	MaxOpenConns int
}

// RunSource reads run objects from the metadata service database
type RunSource struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to the metadata database and verifies the connection
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*RunSource, error) {
	if cfg.DSN == "" {
		return nil, errors.New("metadata DSN is required")
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping metadata database: %w", err)
	}

	logger.Info("connected to metadata database")
	return NewRunSource(db, logger), nil
}

// NewRunSource wraps an open database
func NewRunSource(db *sql.DB, logger *zap.Logger) *RunSource {
	return &RunSource{db: db, logger: logger}
}

// GetRun returns nil, nil when the run has not been recorded yet
func (s *RunSource) GetRun(ctx context.Context, pathspec string) (*domain.Run, error) {
	flowName, runID, err := splitPathspec(pathspec)
	if err != nil {
		return nil, err
	}

	var (
		flowID       string
		runNumber    int64
		storedID     sql.NullString
		tsEpoch      int64
		lastHeartbeat sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, runQuery, flowName, runID).
		Scan(&flowID, &runNumber, &storedID, &tsEpoch, &lastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("run object not found", zap.String("pathspec", pathspec))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", pathspec, err)
	}

	run := &domain.Run{
		Pathspec:  pathspec,
		FlowName:  flowID,
		RunID:     strconv.FormatInt(runNumber, 10),
		CreatedAt: time.UnixMilli(tsEpoch).UTC(),
	}
	if storedID.Valid && storedID.String != "" {
		run.RunID = storedID.String
	}
	if lastHeartbeat.Valid {
		hb := time.Unix(lastHeartbeat.Int64, 0).UTC()
		run.LastHeartbeat = &hb
	}
	return run, nil
}

// Close closes the database
func (s *RunSource) Close() error {
	return s.db.Close()
}

// splitPathspec splits Flow/RunID
func splitPathspec(pathspec string) (string, string, error) {
	parts := strings.Split(pathspec, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid run pathspec %q", pathspec)
	}
	return parts[0], parts[1], nil
}
