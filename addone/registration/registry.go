package registration

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNFTypeNotFound 未注册的 NF 类型
var ErrNFTypeNotFound = errors.New("nf type not found")

// 注册中心，按 NF 类型获取插件
var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{}
)

// Register 注册一个 NF 类型插件
func Register(name string, plugin Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = plugin
}

// Get 获取指定类型的插件，不存在时返回 ErrNFTypeNotFound
func Get(name string) (Plugin, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNFTypeNotFound, name)
}

// Names 已注册的类型名（排序）
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
