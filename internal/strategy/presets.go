package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"backlab/internal/backtest"
	"backlab/internal/logger"
)

// Preset 是一份命名参数集：指定策略名与一组参数覆盖项，
// 回测与优化请求可以按名称引用而不必重复罗列参数。
type Preset struct {
	Name        string          `mapstructure:"name" yaml:"name"`
	Strategy    string          `mapstructure:"strategy" yaml:"strategy"`
	Description string          `mapstructure:"description" yaml:"description"`
	Params      backtest.Params `mapstructure:"params" yaml:"params"`
}

type presetFile struct {
	Presets map[string]Preset `mapstructure:"presets" yaml:"presets"`
}

// PresetSnapshot 是某一时刻的预设集合，重载后版本号递增。
type PresetSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

// PresetRegistry 从 YAML 文件装载参数预设并监听文件变更热重载。
type PresetRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot PresetSnapshot
}

// NewPresetRegistry 读取预设文件并开始监听更新。
func NewPresetRegistry(path string) (*PresetRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("预设文件路径为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取预设文件失败: %w", err)
	}
	r := &PresetRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("预设热重载失败: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前预设集合的拷贝。
func (r *PresetRegistry) Snapshot() PresetSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePresetSnapshot(r.snapshot)
}

// Preset 按名称取一份预设。
func (r *PresetRegistry) Preset(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[strings.TrimSpace(name)]
	return p, ok
}

// Names 返回排序后的预设名。
func (r *PresetRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.snapshot.Presets))
	for name := range r.snapshot.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 按预设构造策略实例；overrides 优先于预设参数。
func (r *PresetRegistry) Resolve(name string, overrides backtest.Params) (backtest.Strategy, error) {
	p, ok := r.Preset(name)
	if !ok {
		return nil, fmt.Errorf("未找到预设: %s", name)
	}
	factory, err := Lookup(p.Strategy)
	if err != nil {
		return nil, err
	}
	return factory.NewStrategy(p.Params.Merge(overrides))
}

func (r *PresetRegistry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]Preset)
	for name, p := range cfg.Presets {
		norm := normalizePreset(name, p)
		if _, err := Lookup(norm.Strategy); err != nil {
			logger.Warnf("预设 %s 引用未注册策略 %s，已跳过", norm.Name, norm.Strategy)
			continue
		}
		presets[norm.Name] = norm
	}
	r.mu.Lock()
	r.snapshot = PresetSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("参数预设已加载 %d 份（来源 %s）", len(presets), filepath.Base(r.path))
	return nil
}

func readPresetFile(path string) (presetFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return presetFile{}, fmt.Errorf("读取预设文件失败: %w", err)
	}
	var cfg presetFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return presetFile{}, fmt.Errorf("解析预设文件失败: %w", err)
	}
	return cfg, nil
}

func normalizePreset(name string, p Preset) Preset {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = strings.TrimSpace(name)
	}
	p.Strategy = strings.TrimSpace(p.Strategy)
	p.Description = strings.TrimSpace(p.Description)
	if p.Params == nil {
		p.Params = backtest.Params{}
	}
	return p
}

func clonePresetSnapshot(src PresetSnapshot) PresetSnapshot {
	dst := PresetSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
	}
	for name, p := range src.Presets {
		dst.Presets[name] = p
	}
	return dst
}
