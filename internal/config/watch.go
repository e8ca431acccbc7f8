package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

const reloadDebounce = 300 * time.Millisecond

// Watch 监听配置文件变更并重新加载，成功后回调 onReload；ctx 结束时返回。
// 监听所在目录，兼容编辑器以重命名方式保存
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch init: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config watch add: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		trigger := func() {
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).Warn("Config reload failed")
				return
			}
			logger.WithField("file", path).Info("Config reloaded")
			onReload(cfg)
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(reloadDebounce, trigger)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watch error")
			}
		}
	}()
	return nil
}
