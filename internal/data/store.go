package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backlab/internal/market"
)

// Manifest 记录某个数据集文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 管理按 symbol 分库的 SQLite K 线仓库。
// bar 以解析后的毫秒时间戳为主键，原始时间戳字符串与指标列一并保存，
// 读出的 bar 与 CSV 装载的 bar 完全等价。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore 打开（必要时创建）数据根目录。
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

// Close 关闭所有已打开的数据库。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, string, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, "", fmt.Errorf("symbol 不能为空")
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol), nil
	}
	path := s.dbPath(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, key); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	return filepath.Join(s.root, strings.ToUpper(symbol)+".db")
}

// InsertBars 批量写入 K 线（重复时间戳将被覆盖）。
// 时间戳无法解析的 bar 视为脏数据，整批报错。
func (s *Store) InsertBars(ctx context.Context, symbol string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (ts, raw_ts, open, high, low, close, volume, scores)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET
		    raw_ts=excluded.raw_ts,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    scores=excluded.scores`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		t, err := market.ParseTimestamp(b.Timestamp)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("bar 时间戳无效: %w", err)
		}
		scores, err := encodeScores(b.Scores)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, t.UnixMilli(), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume, scores); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// LoadBars 读取指定毫秒区间的 K 线，按时间升序返回。
// start/end 为 0 表示不设边界。
func (s *Store) LoadBars(ctx context.Context, symbol string, start, end int64) ([]market.Bar, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	if end <= 0 {
		end = time.Now().AddDate(100, 0, 0).UnixMilli()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT raw_ts, open, high, low, close, volume, scores
		FROM bars WHERE ts BETWEEN ? AND ? ORDER BY ts`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Bar
	for rows.Next() {
		var b market.Bar
		var scores sql.NullString
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &scores); err != nil {
			return nil, err
		}
		if scores.Valid && scores.String != "" {
			if err := json.Unmarshal([]byte(scores.String), &b.Scores); err != nil {
				return nil, fmt.Errorf("scores 字段损坏: %w", err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Manifest 返回数据集的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,min_time,max_time,rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// Symbols 枚举数据根目录下已有的数据集。
func (s *Store) Symbols() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".db"))
	}
	return out, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(ts), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(ts), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, symbol string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			ts     INTEGER PRIMARY KEY,
			raw_ts TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			scores TEXT,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, symbol)
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeScores(scores map[string]float64) (any, error) {
	if len(scores) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(scores)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// ImportCSV 把一个 CSV 文件写入数据集，返回导入行数。
func (s *Store) ImportCSV(ctx context.Context, symbol, path string) (int, error) {
	bars, err := market.LoadCSV(path)
	if err != nil {
		return 0, err
	}
	return s.InsertBars(ctx, symbol, bars)
}
