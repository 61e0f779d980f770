package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	blcfg "backlab/internal/config"
	"backlab/internal/data"
	"backlab/internal/logger"
	"backlab/internal/report"
	"backlab/internal/service"
	"backlab/internal/strategy"
)

const usage = `用法: backlab <command> [flags]

命令:
  import    导入 CSV 数据集到本地仓库
  run       执行一次回测并输出摘要
  optimize  网格搜索参数组合
  serve     启动 HTTP 服务
  list      列出已注册策略与本地数据集

配置文件路径取自 -config 或环境变量 BACKLAB_CONFIG。`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "import":
		err = runImport(ctx, args)
	case "run":
		err = runBacktest(ctx, args)
	case "optimize":
		err = runOptimize(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "list":
		err = runList(ctx, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s 失败: %v", cmd, err)
	}
}

func loadConfig(path string) (*blcfg.Config, error) {
	if path == "" {
		path = os.Getenv("BACKLAB_CONFIG")
	}
	if path == "" {
		cfg := blcfg.Default()
		logger.SetLevel(cfg.App.LogLevel)
		return cfg, nil
	}
	cfg, err := blcfg.Load(path)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功 (%s)", path)
	return cfg, nil
}

func openService(cfg *blcfg.Config) (*service.Service, *data.Store, error) {
	store, err := data.NewStore(cfg.Data.Dir)
	if err != nil {
		return nil, nil, err
	}
	results, err := service.NewResultStore(cfg.Server.ResultDBPath)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	var presets *strategy.PresetRegistry
	if cfg.Data.PresetsPath != "" {
		presets, err = strategy.NewPresetRegistry(cfg.Data.PresetsPath)
		if err != nil {
			logger.Warnf("预设加载失败，继续以无预设模式运行: %v", err)
		}
	}
	svc, err := service.NewService(service.ServiceConfig{
		Store:         store,
		Results:       results,
		Presets:       presets,
		Runner:        cfg.Backtest,
		Metric:        cfg.Optimize.Metric,
		TopN:          cfg.Optimize.TopN,
		MaxWorkers:    cfg.Optimize.MaxWorkers,
		MaxConcurrent: cfg.Server.MaxConcurrent,
	})
	if err != nil {
		_ = store.Close()
		_ = results.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "", "配置文件路径")
	symbol := fs.String("symbol", "", "数据集名称（默认取文件名）")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("需要至少一个 CSV 文件路径")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := data.NewStore(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, path := range fs.Args() {
		name := *symbol
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		n, err := store.ImportCSV(ctx, name, path)
		if err != nil {
			return fmt.Errorf("导入 %s: %w", path, err)
		}
		logger.Infof("✓ %s: 导入 %d 根 bar 到数据集 %s", path, n, name)
	}
	return nil
}

func runBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "配置文件路径")
	symbol := fs.String("symbol", "", "数据集名称")
	strat := fs.String("strategy", "", "策略名称")
	preset := fs.String("preset", "", "参数预设名称")
	chartOut := fs.String("chart", "", "资金曲线 HTML 输出路径（可选）")
	start := fs.Int64("start", 0, "起始毫秒时间戳（0=不限）")
	end := fs.Int64("end", 0, "结束毫秒时间戳（0=不限）")
	_ = fs.Parse(args)
	if *symbol == "" {
		return fmt.Errorf("-symbol 必填")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	svc, store, err := openService(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := svc.RunBacktest(ctx, service.BacktestRequest{
		Symbol:   *symbol,
		Strategy: *strat,
		Preset:   *preset,
		StartTS:  *start,
		EndTS:    *end,
	})
	if err != nil {
		return err
	}
	logger.InfoBlock(report.Summary(result))
	if *chartOut != "" {
		html, err := report.EquityChartHTML(result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*chartOut, html, 0o644); err != nil {
			return err
		}
		logger.Infof("✓ 资金曲线已输出到 %s", *chartOut)
	}
	return nil
}

func runOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	cfgPath := fs.String("config", "", "配置文件路径")
	symbol := fs.String("symbol", "", "数据集名称")
	strat := fs.String("strategy", "", "策略名称")
	preset := fs.String("preset", "", "参数预设名称")
	metric := fs.String("metric", "", "排序指标（默认 total_return）")
	topN := fs.Int("top", 0, "返回前 N 个组合")
	workers := fs.Int("workers", 0, "并发 worker 数（0=CPU 数）")
	start := fs.Int64("start", 0, "起始毫秒时间戳（0=不限）")
	end := fs.Int64("end", 0, "结束毫秒时间戳（0=不限）")
	_ = fs.Parse(args)
	if *symbol == "" {
		return fmt.Errorf("-symbol 必填")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	svc, store, err := openService(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var lastPct int
	result, err := svc.RunOptimization(ctx, service.OptimizationRequest{
		Symbol:     *symbol,
		Strategy:   *strat,
		Preset:     *preset,
		Metric:     *metric,
		TopN:       *topN,
		MaxWorkers: *workers,
		StartTS:    *start,
		EndTS:      *end,
	}, func(pct float64) {
		if int(pct)/10 > lastPct/10 {
			lastPct = int(pct)
			logger.Infof("[optimize] 进度 %d%%", lastPct)
		}
	})
	if err != nil {
		return err
	}

	logger.Infof("优化完成: %s 共 %d 组合，成功 %d，失败 %d",
		result.StrategyName, result.TotalCombinations, result.Succeeded, result.Failed)
	for i, trial := range result.TopResults {
		val, _ := trial.Metrics.Metric(result.Metric)
		logger.Infof("  #%d %s=%.4f 参数: %s", i+1, result.Metric, val, trial.Parameters.String())
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "配置文件路径")
	addr := fs.String("addr", "", "监听地址（覆盖配置）")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	svc, store, err := openService(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	svc.SetContext(ctx)

	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	server, err := service.NewHTTPServer(service.HTTPConfig{
		Addr:        listen,
		Svc:         svc,
		ReadTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
	})
	if err != nil {
		return err
	}
	logger.Infof("✓ HTTP 服务监听 %s", listen)
	return server.Start(ctx)
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath := fs.String("config", "", "配置文件路径")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	fmt.Println("已注册策略:")
	for _, name := range strategy.Names() {
		info, ranges, err := strategy.Describe(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %-18s %s 维度=%d\n", name, describeInstrument(info.Instrument.Type), len(ranges))
	}

	store, err := data.NewStore(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer store.Close()
	symbols, err := store.Symbols()
	if err != nil {
		return err
	}
	fmt.Println("本地数据集:")
	for _, sym := range symbols {
		m, err := store.Manifest(ctx, sym)
		if err != nil {
			fmt.Printf("  %-18s (manifest 不可读: %v)\n", sym, err)
			continue
		}
		fmt.Printf("  %-18s %d 根 bar\n", sym, m.Rows)
	}
	return nil
}

func describeInstrument(typ string) string {
	if typ == "" {
		return "stock"
	}
	return typ
}
