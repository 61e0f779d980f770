package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ResultStore 落地任务元信息与结果 JSON，进程重启后可回看历史。
type ResultStore struct {
	db *sql.DB
}

// NewResultStore 打开（必要时创建）结果库。
func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("结果库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

// Close 关闭结果库。
func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			status       TEXT NOT NULL,
			symbol       TEXT NOT NULL DEFAULT '',
			strategy     TEXT NOT NULL DEFAULT '',
			message      TEXT NOT NULL DEFAULT '',
			progress     REAL NOT NULL DEFAULT 0,
			config       TEXT,
			result       TEXT,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 记录一个新任务。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, symbol, strategy, message, progress, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Status, run.Symbol, run.Strategy, run.Message, run.Progress,
		bytesOrNil(run.Config), run.CreatedAt.UnixMilli(), run.UpdatedAt.UnixMilli())
	return err
}

// UpdateRunStatus 更新任务状态与附带消息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, message=?, updated_at=? WHERE id=?`,
		status, message, time.Now().UnixMilli(), id)
	return err
}

// UpdateRunProgress 更新任务完成度（0~100）。
func (s *ResultStore) UpdateRunProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET progress=?, updated_at=? WHERE id=?`,
		progress, time.Now().UnixMilli(), id)
	return err
}

// CompleteRun 落地最终状态与结果 JSON。
func (s *ResultStore) CompleteRun(ctx context.Context, id, status, message string, result any) error {
	var blob any
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("序列化结果失败: %w", err)
		}
		blob = string(raw)
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, message=?, progress=100, result=?, updated_at=?, completed_at=?
		WHERE id=?`,
		status, message, blob, now, now, id)
	return err
}

// ListRuns 按创建时间倒序列出任务；kind 为空表示全部。
func (s *ResultStore) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, kind, status, symbol, strategy, message, progress, config, created_at, updated_at, completed_at
		FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun 读取单个任务的元信息。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, symbol, strategy, message, progress, config, created_at, updated_at, completed_at
		FROM runs WHERE id=?`, id)
	return scanRun(row)
}

// GetResult 返回任务的结果 JSON；未完成时返回 nil。
func (s *ResultStore) GetResult(ctx context.Context, id string) (json.RawMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id=?`, id)
	var blob sql.NullString
	if err := row.Scan(&blob); err != nil {
		return nil, err
	}
	if !blob.Valid || blob.String == "" {
		return nil, nil
	}
	return json.RawMessage(blob.String), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		config    sql.NullString
		created   int64
		updated   int64
		completed sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Kind, &run.Status, &run.Symbol, &run.Strategy,
		&run.Message, &run.Progress, &config, &created, &updated, &completed); err != nil {
		return Run{}, err
	}
	if config.Valid && config.String != "" {
		run.Config = json.RawMessage(config.String)
	}
	run.CreatedAt = timeFromMillis(created)
	run.UpdatedAt = timeFromMillis(updated)
	if completed.Valid && completed.Int64 > 0 {
		run.CompletedAt = timeFromMillis(completed.Int64)
	}
	return run, nil
}

func bytesOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
