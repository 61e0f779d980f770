package optimize

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/logger"
	"backlab/internal/market"

	"golang.org/x/sync/errgroup"
)

// maxWorkerCap 防止大机器上过度并发。
const maxWorkerCap = 16

// Config 控制一次网格搜索。
type Config struct {
	Metric     string                    `mapstructure:"metric" json:"metric"`
	TopN       int                       `mapstructure:"top_n" json:"top_n"`
	MaxWorkers int                       `mapstructure:"max_workers" json:"max_workers"`
	Runner     backtest.RunnerConfig     `mapstructure:"runner" json:"runner"`
	BaseParams backtest.Params           `mapstructure:"base_params" json:"base_params,omitempty"`
	Ranges     []backtest.ParameterRange `mapstructure:"ranges" json:"ranges,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Metric == "" {
		c.Metric = "total_return"
	}
	if c.TopN <= 0 {
		c.TopN = 10
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.MaxWorkers > maxWorkerCap {
		c.MaxWorkers = maxWorkerCap
	}
	return c
}

// TrialResult 记录一个参数组合与其指标。
type TrialResult struct {
	Parameters backtest.Params       `json:"parameters"`
	Metrics    backtest.TrialMetrics `json:"metrics"`
}

// Result 是一次优化的完整产出：排名靠前的组合与全量明细。
type Result struct {
	StrategyName      string                `json:"strategy_name"`
	Metric            string                `json:"optimization_metric"`
	TotalCombinations int                   `json:"total_combinations"`
	Succeeded         int                   `json:"succeeded"`
	Failed            int                   `json:"failed"`
	BestParameters    backtest.Params       `json:"best_parameters"`
	BestMetrics       backtest.TrialMetrics `json:"best_metrics"`
	TopResults        []TrialResult         `json:"top_results"`
	AllResults        []TrialResult         `json:"all_results"`
	FinishedAt        time.Time             `json:"finished_at"`
}

// ProgressFunc 在每个 trial 结束后收到完成百分比。
// 回调串行触发，实现方无需自行加锁。
type ProgressFunc func(percent float64)

// Optimizer 在只读 bar 序列上并行展开独立 trial：
// 每个 trial 持有全新的策略实例与模拟器状态，worker 之间不共享
// 任何可变数据，因此无需加锁。
type Optimizer struct {
	factory backtest.StrategyFactory
	bars    []market.Bar
	cfg     Config
}

// New 校验配置并创建优化器。
func New(factory backtest.StrategyFactory, bars []market.Bar, cfg Config) (*Optimizer, error) {
	if factory == nil {
		return nil, fmt.Errorf("strategy factory 不能为空")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("bar 序列为空")
	}
	cfg = cfg.withDefaults()
	if _, ok := (backtest.TrialMetrics{}).Metric(cfg.Metric); !ok {
		return nil, fmt.Errorf("未知优化指标: %s", cfg.Metric)
	}
	return &Optimizer{factory: factory, bars: bars, cfg: cfg}, nil
}

// Run 展开全部组合并按指标降序排名。单个 trial 失败（错误或 panic）
// 只会被记录并从结果集中剔除，整体继续。ctx 取消只阻止调度后续
// trial，已开始的 trial 会跑完。
func (o *Optimizer) Run(ctx context.Context, progress ProgressFunc) (*Result, error) {
	combos := GenerateCombinations(o.cfg.Ranges)
	total := len(combos)
	logger.Infof("[optimize] 网格搜索开始: combinations=%d metric=%s workers=%d",
		total, o.cfg.Metric, o.cfg.MaxWorkers)

	type slot struct {
		ok      bool
		metrics backtest.TrialMetrics
	}
	slots := make([]slot, total)

	var mu sync.Mutex
	completed := 0
	report := func() {
		mu.Lock()
		completed++
		done := completed
		// 回调在锁内触发：多个 worker 同时收尾时调用方闭包也不会并发执行
		if progress != nil && total > 0 {
			progress(float64(done) / float64(total) * 100)
		}
		mu.Unlock()
		if done%10 == 0 || done == total {
			logger.Debugf("[optimize] 进度 %d/%d (%.1f%%)", done, total, float64(done)/float64(total)*100)
		}
	}

	// trial 内部不响应取消：要么完成要么失败。
	trialCtx := context.WithoutCancel(ctx)

	runOne := func(i int) {
		metrics, err := o.runTrial(trialCtx, combos[i])
		if err != nil {
			logger.Warnf("[optimize] 参数组合 {%s} 失败: %v", combos[i], err)
		} else {
			slots[i] = slot{ok: true, metrics: metrics}
		}
		report()
	}

	scheduled := 0
	if o.cfg.MaxWorkers == 1 {
		// 单 worker 退化路径：语义与并行版完全一致。
		for i := 0; i < total && ctx.Err() == nil; i++ {
			runOne(i)
			scheduled++
		}
	} else {
		g, _ := errgroup.WithContext(trialCtx)
		g.SetLimit(o.cfg.MaxWorkers)
		for i := 0; i < total; i++ {
			if ctx.Err() != nil {
				break
			}
			i := i
			scheduled++
			g.Go(func() error {
				runOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}
	if scheduled < total {
		logger.Warnf("[optimize] 已取消: 仅调度 %d/%d 个组合", scheduled, total)
	}

	name := o.strategyName()
	all := make([]TrialResult, 0, total)
	for i, s := range slots {
		if !s.ok {
			continue
		}
		all = append(all, TrialResult{Parameters: combos[i], Metrics: s.metrics})
	}
	// 降序排名；同分保持组合枚举顺序，保证结果可复现。
	sort.SliceStable(all, func(a, b int) bool {
		va, _ := all[a].Metrics.Metric(o.cfg.Metric)
		vb, _ := all[b].Metrics.Metric(o.cfg.Metric)
		return va > vb
	})

	res := &Result{
		StrategyName:      name,
		Metric:            o.cfg.Metric,
		TotalCombinations: total,
		Succeeded:         len(all),
		Failed:            scheduled - len(all),
		AllResults:        all,
		FinishedAt:        time.Now(),
	}
	topN := o.cfg.TopN
	if topN > len(all) {
		topN = len(all)
	}
	res.TopResults = append([]TrialResult(nil), all[:topN]...)
	if len(all) > 0 {
		res.BestParameters = all[0].Parameters
		res.BestMetrics = all[0].Metrics
	}
	if progress != nil {
		progress(100)
	}
	logger.Infof("[optimize] 完成: succeeded=%d failed=%d best=%v",
		res.Succeeded, res.Failed, res.BestParameters)
	return res, ctx.Err()
}

// runTrial 跑一个组合；panic 转换为错误，避免拖垮整个搜索。
func (o *Optimizer) runTrial(ctx context.Context, combo backtest.Params) (metrics backtest.TrialMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trial panic: %v", r)
		}
	}()
	strat, err := o.factory.NewStrategy(o.cfg.BaseParams.Merge(combo))
	if err != nil {
		return metrics, fmt.Errorf("构造策略失败: %w", err)
	}
	runner := backtest.NewRunner(o.cfg.Runner)
	res, err := runner.Run(ctx, strat, o.bars)
	if err != nil {
		return metrics, err
	}
	return res.SelectedMetrics(), nil
}

func (o *Optimizer) strategyName() string {
	strat, err := o.factory.NewStrategy(o.cfg.BaseParams)
	if err != nil || strat == nil {
		return ""
	}
	return strat.Info().Name
}
