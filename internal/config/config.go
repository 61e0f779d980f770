package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 配置文件，补齐缺省项并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的可用配置，CLI 离线模式使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "backlab"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Optimize.Metric == "" {
		c.Optimize.Metric = "total_return"
	}
	if c.Optimize.TopN <= 0 {
		c.Optimize.TopN = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = 2
	}
	if c.Server.ResultDBPath == "" {
		c.Server.ResultDBPath = "data/results.db"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30
	}
}
