package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider 持有当前生效的配置，并在变更时通知订阅者
type Provider struct {
	path string

	mu   sync.RWMutex
	cfg  Config
	subs []func(Config)
}

func NewProvider(path string, cfg Config) *Provider {
	return &Provider{path: path, cfg: cfg}
}

// Get 返回当前配置的快照
func (p *Provider) Get() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Subscribe 注册配置变更回调，回调在变更方的 goroutine 中同步执行
func (p *Provider) Subscribe(fn func(Config)) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Update 校验、落盘并广播新配置
func (p *Provider) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if p.path != "" {
		if err := Save(p.path, cfg); err != nil {
			return err
		}
	}
	p.set(cfg)
	return nil
}

func (p *Provider) set(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	subs := append([]func(Config){}, p.subs...)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Watch 监听配置文件变化并重新加载，直到 ctx 结束。
// 监听的是所在目录，这样编辑器的 rename 式保存也能被捕获。
func (p *Provider) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		// 连续事件合并为一次重载
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					debounce = time.After(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-debounce:
				debounce = nil
				p.reload()
			}
		}
	}()
	return nil
}

func (p *Provider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous", "path", p.path, "err", err)
		return
	}
	slog.Info("config reloaded", "path", p.path)
	p.set(cfg)
}
