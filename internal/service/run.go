package service

import (
	"encoding/json"
	"time"

	"backlab/internal/backtest"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// 任务种类：单次回测或网格优化。
const (
	RunKindBacktest     = "backtest"
	RunKindOptimization = "optimization"
)

// Run 表示一次后台任务的元信息；结果本体单独存 JSON 列。
type Run struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Symbol      string          `json:"symbol"`
	Strategy    string          `json:"strategy"`
	Message     string          `json:"message"`
	Progress    float64         `json:"progress"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// BacktestRequest 为 HTTP/CLI 提交单次回测使用。
type BacktestRequest struct {
	Symbol   string                 `json:"symbol" binding:"required"`
	Strategy string                 `json:"strategy"`
	Preset   string                 `json:"preset"`
	StartTS  int64                  `json:"start_ts"`
	EndTS    int64                  `json:"end_ts"`
	Params   backtest.Params        `json:"params"`
	Runner   *backtest.RunnerConfig `json:"runner,omitempty"`
}

// OptimizationRequest 提交一次网格优化。
// Ranges 为空时使用策略自身声明的维度。
type OptimizationRequest struct {
	Symbol     string                    `json:"symbol" binding:"required"`
	Strategy   string                    `json:"strategy"`
	Preset     string                    `json:"preset"`
	StartTS    int64                     `json:"start_ts"`
	EndTS      int64                     `json:"end_ts"`
	Metric     string                    `json:"metric"`
	TopN       int                       `json:"top_n"`
	MaxWorkers int                       `json:"max_workers"`
	BaseParams backtest.Params           `json:"base_params"`
	Ranges     []backtest.ParameterRange `json:"ranges"`
	Runner     *backtest.RunnerConfig    `json:"runner,omitempty"`
}
