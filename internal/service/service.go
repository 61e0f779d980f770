package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"backlab/internal/backtest"
	"backlab/internal/data"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/optimize"
	"backlab/internal/strategy"
)

// ServiceConfig 配置后台任务服务。
type ServiceConfig struct {
	Store         *data.Store
	Results       *ResultStore
	Presets       *strategy.PresetRegistry
	Runner        backtest.RunnerConfig
	Metric        string
	TopN          int
	MaxWorkers    int
	MaxConcurrent int
}

// Service 负责管理回测/优化任务：提交即返回，任务在后台执行，
// 进度与结果写入结果库。
type Service struct {
	store      *data.Store
	results    *ResultStore
	presets    *strategy.PresetRegistry
	runner     backtest.RunnerConfig
	metric     string
	topN       int
	maxWorkers int

	sem chan struct{}

	mu      sync.RWMutex
	baseCtx context.Context
}

// NewService 创建任务服务。
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("bar 仓库不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("结果库不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		store:      cfg.Store,
		results:    cfg.Results,
		presets:    cfg.Presets,
		runner:     cfg.Runner,
		metric:     cfg.Metric,
		topN:       cfg.TopN,
		maxWorkers: cfg.MaxWorkers,
		sem:        make(chan struct{}, maxConcurrent),
		baseCtx:    context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于进程退出时停止调度新任务。
func (s *Service) SetContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Service) ctx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// resolveFactory 按请求定位策略工厂并合并参数：
// 预设参数 < 请求参数，策略名可由预设推导。
func (s *Service) resolveFactory(strategyName, presetName string, overrides backtest.Params) (backtest.StrategyFactory, backtest.Params, string, error) {
	if presetName != "" {
		if s.presets == nil {
			return nil, nil, "", fmt.Errorf("预设未启用")
		}
		p, ok := s.presets.Preset(presetName)
		if !ok {
			return nil, nil, "", fmt.Errorf("未找到预设: %s", presetName)
		}
		factory, err := strategy.Lookup(p.Strategy)
		if err != nil {
			return nil, nil, "", err
		}
		return factory, p.Params.Merge(overrides), p.Strategy, nil
	}
	if strings.TrimSpace(strategyName) == "" {
		return nil, nil, "", fmt.Errorf("strategy 或 preset 必须指定其一")
	}
	factory, err := strategy.Lookup(strategyName)
	if err != nil {
		return nil, nil, "", err
	}
	if overrides == nil {
		overrides = backtest.Params{}
	}
	return factory, overrides, strategyName, nil
}

func (s *Service) loadBars(ctx context.Context, symbol string, start, end int64) ([]market.Bar, error) {
	bars, err := s.store.LoadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("数据集 %s 在指定区间内没有 bar", symbol)
	}
	return bars, nil
}

func (s *Service) runnerConfig(override *backtest.RunnerConfig) backtest.RunnerConfig {
	if override != nil {
		return *override
	}
	return s.runner
}

// RunBacktest 同步执行一次回测，CLI 使用。
func (s *Service) RunBacktest(ctx context.Context, req BacktestRequest) (*backtest.BacktestResult, error) {
	factory, params, _, err := s.resolveFactory(req.Strategy, req.Preset, req.Params)
	if err != nil {
		return nil, err
	}
	bars, err := s.loadBars(ctx, req.Symbol, req.StartTS, req.EndTS)
	if err != nil {
		return nil, err
	}
	strat, err := factory.NewStrategy(params)
	if err != nil {
		return nil, err
	}
	return backtest.NewRunner(s.runnerConfig(req.Runner)).Run(ctx, strat, bars)
}

// RunOptimization 同步执行一次网格优化，CLI 使用。
func (s *Service) RunOptimization(ctx context.Context, req OptimizationRequest, progress optimize.ProgressFunc) (*optimize.Result, error) {
	factory, params, _, err := s.resolveFactory(req.Strategy, req.Preset, req.BaseParams)
	if err != nil {
		return nil, err
	}
	bars, err := s.loadBars(ctx, req.Symbol, req.StartTS, req.EndTS)
	if err != nil {
		return nil, err
	}
	ranges := req.Ranges
	if len(ranges) == 0 {
		strat, err := factory.NewStrategy(params)
		if err != nil {
			return nil, err
		}
		ranges = strat.ParameterRanges()
	}
	cfg := optimize.Config{
		Metric:     firstNonEmpty(req.Metric, s.metric),
		TopN:       firstPositive(req.TopN, s.topN),
		MaxWorkers: firstPositive(req.MaxWorkers, s.maxWorkers),
		Runner:     s.runnerConfig(req.Runner),
		BaseParams: params,
		Ranges:     ranges,
	}
	opt, err := optimize.New(factory, bars, cfg)
	if err != nil {
		return nil, err
	}
	return opt.Run(ctx, progress)
}

// StartBacktest 提交后台回测，立即返回 pending 任务。
func (s *Service) StartBacktest(req BacktestRequest) (Run, error) {
	// 先在提交线程里做校验，让坏请求同步失败
	if _, _, _, err := s.resolveFactory(req.Strategy, req.Preset, req.Params); err != nil {
		return Run{}, err
	}
	run, err := s.insertPending(RunKindBacktest, req.Symbol, displayName(req.Strategy, req.Preset), req)
	if err != nil {
		return Run{}, err
	}
	go s.execute(run, func(ctx context.Context) (any, error) {
		return s.RunBacktest(ctx, req)
	})
	return run, nil
}

// StartOptimization 提交后台优化，立即返回 pending 任务。
func (s *Service) StartOptimization(req OptimizationRequest) (Run, error) {
	if _, _, _, err := s.resolveFactory(req.Strategy, req.Preset, req.BaseParams); err != nil {
		return Run{}, err
	}
	run, err := s.insertPending(RunKindOptimization, req.Symbol, displayName(req.Strategy, req.Preset), req)
	if err != nil {
		return Run{}, err
	}
	go s.execute(run, func(ctx context.Context) (any, error) {
		var lastPct float64
		progress := func(pct float64) {
			// 整数百分比推进时才写库，避免刷爆结果库
			if pct-lastPct >= 1 || pct >= 100 {
				lastPct = pct
				if err := s.results.UpdateRunProgress(ctx, run.ID, pct); err != nil {
					logger.Warnw("[service] 进度写入失败", "run_id", run.ID, "error", err)
				}
			}
		}
		return s.RunOptimization(ctx, req, progress)
	})
	return run, nil
}

func (s *Service) insertPending(kind, symbol, strategyName string, cfg any) (Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, err
	}
	now := time.Now()
	run := Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    RunStatusPending,
		Symbol:    symbol,
		Strategy:  strategyName,
		Config:    raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	logger.Infow("[service] 任务提交", "run_id", run.ID, "kind", kind, "symbol", symbol)
	return run, nil
}

func (s *Service) execute(run Run, fn func(ctx context.Context) (any, error)) {
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		_ = s.results.UpdateRunStatus(context.Background(), run.ID, RunStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	if err := s.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
		logger.Warnw("[service] 状态更新失败", "run_id", run.ID, "error", err)
	}
	started := time.Now()
	result, err := fn(ctx)
	if err != nil {
		logger.Errorw("[service] 任务失败", "run_id", run.ID, "error", err)
		_ = s.results.CompleteRun(context.Background(), run.ID, RunStatusFailed, err.Error(), nil)
		return
	}
	if err := s.results.CompleteRun(context.Background(), run.ID, RunStatusDone, "完成", result); err != nil {
		logger.Errorw("[service] 结果写入失败", "run_id", run.ID, "error", err)
		return
	}
	logger.Infow("[service] 任务完成", "run_id", run.ID, "elapsed", time.Since(started).Round(time.Millisecond))
}

func displayName(strategyName, preset string) string {
	if preset != "" {
		return "preset:" + preset
	}
	return strategyName
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
