// 配置热重载实现。
//
// 配置文件变更后重新加载并校验，只把可热更新的字段应用到当前配置，
// 其余字段的变更记录为需要重启。
package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// hotReloadableFields 可在运行时生效的字段（Section.Field）
var hotReloadableFields = map[string]struct{}{
	"Log.Level": {},
}

// ConfigChange 一个字段的变更
type ConfigChange struct {
	Path            string `json:"path"`
	RequiresRestart bool   `json:"requires_restart"`
}

// ReloadCallback 在可热更新字段生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 校验新配置，返回错误时放弃本次重载
type ValidateFunc func(newConfig *Config) error

// HotReloadManager 监听配置文件并应用可热更新的变更
type HotReloadManager struct {
	path     string
	logger   *zap.Logger
	validate ValidateFunc
	watchOpt []WatcherOption

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback
	watcher   *FileWatcher
}

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置日志
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithValidateFunc 追加校验，在 Config.Validate 之后执行
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) { m.validate = fn }
}

// WithWatcherOptions 传递给底层 FileWatcher 的选项
func WithWatcherOptions(opts ...WatcherOption) HotReloadOption {
	return func(m *HotReloadManager) { m.watchOpt = append(m.watchOpt, opts...) }
}

// NewHotReloadManager 以 cfg 为当前配置创建管理器，path 为配置文件路径
func NewHotReloadManager(cfg *Config, path string, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		path:    path,
		current: cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	return m
}

// OnReload 注册回调
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Current 返回当前生效的配置，调用方不得修改
func (m *HotReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Start 开始监听配置文件
func (m *HotReloadManager) Start(ctx context.Context) error {
	opts := append([]WatcherOption{WithWatcherLogger(m.logger)}, m.watchOpt...)
	w, err := NewFileWatcher(m.path, opts...)
	if err != nil {
		return err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			m.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		if _, err := m.Reload(); err != nil {
			m.logger.Error("config reload failed", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	return nil
}

// Stop 停止监听
func (m *HotReloadManager) Stop() {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Reload 重新加载配置文件并返回检测到的变更。只有可热更新的字段被应用；
// 校验失败时当前配置保持不变。
func (m *HotReloadManager) Reload() ([]ConfigChange, error) {
	loaded, err := NewLoader().WithConfigPath(m.path).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if m.validate != nil {
		if err := m.validate(loaded); err != nil {
			return nil, fmt.Errorf("config rejected: %w", err)
		}
	}

	m.mu.Lock()
	old := m.current
	changes := diffConfig(old, loaded)
	applied := *old
	hot := false
	for _, ch := range changes {
		if ch.RequiresRestart {
			continue
		}
		if err := copyField(&applied, loaded, ch.Path); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		hot = true
	}
	if hot {
		m.current = &applied
	}
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, ch := range changes {
		if ch.RequiresRestart {
			m.logger.Warn("config change requires restart", zap.String("field", ch.Path))
		} else {
			m.logger.Info("config change applied", zap.String("field", ch.Path))
		}
	}
	if hot {
		for _, cb := range callbacks {
			cb(old, &applied)
		}
	}
	return changes, nil
}

// diffConfig 逐个 Section.Field 比较两份配置
func diffConfig(oldCfg, newCfg *Config) []ConfigChange {
	var changes []ConfigChange
	ov, nv := reflect.ValueOf(oldCfg).Elem(), reflect.ValueOf(newCfg).Elem()
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		oldSec, newSec := ov.Field(i), nv.Field(i)
		if section.Type.Kind() != reflect.Struct {
			if !reflect.DeepEqual(oldSec.Interface(), newSec.Interface()) {
				changes = append(changes, newChange(section.Name))
			}
			continue
		}
		for j := 0; j < section.Type.NumField(); j++ {
			if !reflect.DeepEqual(oldSec.Field(j).Interface(), newSec.Field(j).Interface()) {
				changes = append(changes, newChange(section.Name+"."+section.Type.Field(j).Name))
			}
		}
	}
	return changes
}

func newChange(path string) ConfigChange {
	_, hot := hotReloadableFields[path]
	return ConfigChange{Path: path, RequiresRestart: !hot}
}

// copyField 把 src 中 Section.Field 的值复制到 dst
func copyField(dst, src *Config, path string) error {
	dv, sv := reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem()
	section, field, _ := strings.Cut(path, ".")
	for _, name := range []string{section, field} {
		if name == "" {
			continue
		}
		dv, sv = dv.FieldByName(name), sv.FieldByName(name)
		if !dv.IsValid() {
			return fmt.Errorf("unknown config field %s", path)
		}
	}
	dv.Set(sv)
	return nil
}
