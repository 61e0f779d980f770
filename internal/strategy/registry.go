package strategy

import (
	"fmt"
	"sort"
	"sync"

	"backlab/internal/backtest"
)

// registry 维护策略名到工厂的映射，供外部按名称解析可构造实现。
var (
	regMu    sync.RWMutex
	registry = make(map[string]backtest.StrategyFactory)
)

// Register 注册策略工厂；重名直接覆盖（后注册者生效）。
func Register(name string, factory backtest.StrategyFactory) {
	regMu.Lock()
	registry[name] = factory
	regMu.Unlock()
}

// Lookup 按名称解析策略工厂。
func Lookup(name string) (backtest.StrategyFactory, error) {
	regMu.RLock()
	factory, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未注册的策略: %s", name)
	}
	return factory, nil
}

// Names 返回已注册策略名（排序后）。
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe 用默认参数实例化策略并返回其展示信息与可调维度。
func Describe(name string) (backtest.StrategyInfo, []backtest.ParameterRange, error) {
	factory, err := Lookup(name)
	if err != nil {
		return backtest.StrategyInfo{}, nil, err
	}
	strat, err := factory.NewStrategy(nil)
	if err != nil {
		return backtest.StrategyInfo{}, nil, err
	}
	return strat.Info(), strat.ParameterRanges(), nil
}
