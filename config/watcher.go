// 配置文件变更监听器实现。
//
// 通过轮询文件修改时间与大小检测变更，防抖后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// FileWatcher 轮询监听单个配置文件
type FileWatcher struct {
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	last      *fileStamp
	cancel    context.CancelFunc
	done      chan struct{}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置防抖延迟，编辑器多次写入只触发一次回调
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d >= 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建文件监听器；文件暂不存在时等待其被创建
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 200 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", path))
	}
	return w, nil
}

// Path 返回被监听的文件路径
func (w *FileWatcher) Path() string { return w.path }

// OnChange 注册变更回调，回调在监听 goroutine 中串行执行
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始轮询，直到 ctx 结束或调用 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("watcher already running")
	}
	w.last = stat(w.path)

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听并等待 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("config watcher stopped")
}

// IsRunning 返回监听器是否在运行
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *FileWatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		debounce <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evt, changed := w.check(); changed {
				// 同一防抖窗口内只保留最后一个事件
				pending = &evt
				debounce = time.After(w.debounceDelay)
			}
		case <-debounce:
			debounce = nil
			if pending != nil {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

// check 比较当前文件状态与上次记录
func (w *FileWatcher) check() (FileEvent, bool) {
	cur := stat(w.path)

	w.mu.Lock()
	prev := w.last
	w.last = cur
	w.mu.Unlock()

	evt := FileEvent{Path: w.path, Timestamp: time.Now()}
	switch {
	case prev == nil && cur == nil:
		return evt, false
	case prev == nil:
		evt.Op = FileOpCreate
	case cur == nil:
		evt.Op = FileOpRemove
	case !cur.modTime.Equal(prev.modTime) || cur.size != prev.size:
		evt.Op = FileOpWrite
	default:
		return evt, false
	}
	return evt, true
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("dispatching config file event",
		zap.String("path", evt.Path),
		zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}

func stat(path string) *fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return &fileStamp{modTime: info.ModTime(), size: info.Size()}
}
