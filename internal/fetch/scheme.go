package fetch

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// SchemeMetadata 记录一个 URL scheme 的静态信息，供下载循环决定重试上限与预检策略。
type SchemeMetadata struct {
	Key             string
	Description     string
	MaxAttempts     int
	RequiresNetwork bool
	// Resumable 表示 opener 能从非零偏移继续读取，缓存据此决定续传还是截断重下。
	Resumable bool
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	schemes map[string]SchemeMetadata
}

func newRegistry() *registry {
	return &registry{schemes: make(map[string]SchemeMetadata)}
}

// Register 将 scheme 元数据加入全局注册表，重复键会返回错误。
func Register(meta SchemeMetadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta SchemeMetadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定 scheme 的元数据。
func Resolve(key string) (SchemeMetadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的 scheme 元数据列表。
func List() []SchemeMetadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册 scheme，供诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

// SchemeOf 解析 rawURL 的 scheme（小写）。解析失败返回空串。
func SchemeOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// MaxAttemptsFor 返回 rawURL 对应协议的最大尝试次数，未注册的协议只尝试一次。
func MaxAttemptsFor(rawURL string) int {
	meta, ok := Resolve(SchemeOf(rawURL))
	if !ok || meta.MaxAttempts <= 0 {
		return 1
	}
	return meta.MaxAttempts
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta SchemeMetadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("scheme key is required")
	}
	if meta.MaxAttempts <= 0 {
		return fmt.Errorf("scheme %s: max attempts must be positive", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemes[key]; exists {
		return fmt.Errorf("scheme %s already registered", key)
	}
	r.schemes[key] = meta
	return nil
}

func (r *registry) resolve(key string) (SchemeMetadata, bool) {
	if key == "" {
		return SchemeMetadata{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.schemes[normalized]
	return meta, ok
}

func (r *registry) list() []SchemeMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.schemes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.schemes))
	for key := range r.schemes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]SchemeMetadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.schemes[key])
	}
	return result
}
