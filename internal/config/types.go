package config

import (
	"backlab/internal/backtest"
)

// Config 是进程级配置根节点，从 YAML 文件装载。
type Config struct {
	App      AppConfig             `mapstructure:"app"`
	Data     DataConfig            `mapstructure:"data"`
	Backtest backtest.RunnerConfig `mapstructure:"backtest"`
	Optimize OptimizeConfig        `mapstructure:"optimize"`
	Server   ServerConfig          `mapstructure:"server"`
}

// AppConfig 是进程标识与日志设置。
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// DataConfig 描述行情仓库位置：Dir 下每个数据集一个 SQLite 库。
type DataConfig struct {
	Dir         string `mapstructure:"dir"`
	PresetsPath string `mapstructure:"presets_path"`
}

// OptimizeConfig 是网格优化的进程级缺省项，请求级参数可覆盖。
type OptimizeConfig struct {
	Metric     string `mapstructure:"metric"`
	TopN       int    `mapstructure:"top_n"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// ServerConfig 是 HTTP 服务设置。
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	ResultDBPath   string `mapstructure:"result_db_path"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
}
