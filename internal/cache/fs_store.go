package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/any-install/internal/fetch"
	"github.com/any-hub/any-install/internal/logging"
	"github.com/any-hub/any-install/internal/metrics"
)

const (
	defaultChunkSize  = 100 * 1024
	defaultRetryDelay = 2 * time.Second
)

// Cache 以 root 为根目录缓存包文件，整个安装过程复用一份实例。
type Cache struct {
	opener     Opener
	logger     *logrus.Logger
	chunkSize  int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	root    string
	entries map[string]*entry
	locks   map[string]*entryLock

	group singleflight.Group
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Option 配置 Cache。
type Option func(*Cache)

// WithChunkSize 设置单次读取的块大小，非正值忽略。
func WithChunkSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRetryDelay 设置两次尝试之间的固定等待。
func WithRetryDelay(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithSleep 替换重试等待函数，测试用它记录等待而不真正睡眠。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New 以 root 为根目录构建缓存。
func New(root string, opener Opener, logger *logrus.Logger, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	if opener == nil {
		return nil, errors.New("cache opener required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	c := &Cache{
		opener:     opener,
		logger:     logging.OrDiscard(logger),
		chunkSize:  defaultChunkSize,
		retryDelay: defaultRetryDelay,
		sleep:      sleepContext,
		root:       abs,
		entries:    make(map[string]*entry),
		locks:      make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root 返回当前缓存根目录。
func (c *Cache) Root() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// LocalPath 返回 rawURL 在缓存中的位置，Relocate 之前保持不变。
func (c *Cache) LocalPath(rawURL string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(rawURL).localPath
}

// IsComplete 报告 rawURL 是否已完整下载并通过校验。
func (c *Cache) IsComplete(rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rawURL]
	return ok && e.state == StateComplete
}

// CachedCopy 返回已完成条目的本地路径；文件已被外部删除时静默清除条目并返回 fallback。
func (c *Cache) CachedCopy(rawURL, fallback string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rawURL]
	if !ok || e.state != StateComplete {
		return fallback
	}
	if _, err := os.Stat(e.localPath); err != nil {
		delete(c.entries, rawURL)
		metrics.CacheEvictions.WithLabelValues("vanished").Inc()
		c.logger.WithFields(logging.FetchFields(rawURL, fetch.SchemeOf(rawURL), 0)).
			WithField("path", e.localPath).Debug("cache_entry_vanished")
		return fallback
	}
	return e.localPath
}

// RemoteOpen 返回 rawURL 的远端流与本地文件。已有在途配对时直接复用，
// 否则重新打开并登记；协议支持续传时从本地已有长度继续。
func (c *Cache) RemoteOpen(ctx context.Context, rawURL string) (io.ReadCloser, *os.File, error) {
	unlock := c.lockEntry(rawURL)
	defer unlock()

	c.mu.Lock()
	e := c.entryLocked(rawURL)
	c.mu.Unlock()

	flight, err := c.remoteOpen(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return flight.remote, flight.local, nil
}

// RemoteClose 关闭 rawURL 的在途配对。local 必须是 RemoteOpen 返回的文件。
func (c *Cache) RemoteClose(rawURL string, local *os.File) error {
	unlock := c.lockEntry(rawURL)
	defer unlock()

	c.mu.Lock()
	e, ok := c.entries[rawURL]
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if e.flight != nil && local != nil && e.flight.local != local {
		return fmt.Errorf("local file %s does not belong to %s", local.Name(), rawURL)
	}
	return c.closeFlight(e)
}

// Clobber 丢弃 rawURL 的全部记录并删除本地文件，文件不存在不视为错误。
func (c *Cache) Clobber(rawURL string) error {
	unlock := c.lockEntry(rawURL)
	defer unlock()
	return c.clobber(rawURL, "clobber")
}

// Detach 关闭 rawURL 的在途配对但保留本地部分文件，下一次下载按偏移续传。
// 大量有界下载（头部预取）之后调用，避免每个包各占一条远端连接。
func (c *Cache) Detach(rawURL string) error {
	unlock := c.lockEntry(rawURL)
	defer unlock()

	c.mu.Lock()
	e, ok := c.entries[rawURL]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.closeFlight(e)
}

// Entries 返回按 URL 排序的条目快照。
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	infos := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, EntryInfo{URL: logging.RedactURL(e.url), LocalPath: e.localPath, State: e.state.String()})
	}
	c.mu.Unlock()

	for i := range infos {
		if info, err := os.Stat(infos[i].LocalPath); err == nil {
			infos[i].SizeBytes = info.Size()
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].URL < infos[j].URL })
	return infos
}

func (c *Cache) entryLocked(rawURL string) *entry {
	e, ok := c.entries[rawURL]
	if !ok {
		e = &entry{url: rawURL, localPath: pathFor(c.root, rawURL), state: StateEmpty}
		c.entries[rawURL] = e
	}
	return e
}

func (c *Cache) remoteOpen(ctx context.Context, e *entry) (*inFlight, error) {
	c.mu.Lock()
	if e.flight != nil {
		flight := e.flight
		c.mu.Unlock()
		return flight, nil
	}
	localPath := e.localPath
	c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, err
	}
	local, err := os.OpenFile(localPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	var offset int64
	if c.opener.Resumable(e.url) {
		if info, statErr := local.Stat(); statErr == nil {
			offset = info.Size()
		}
	}

	stream, err := c.opener.Open(ctx, e.url, offset)
	if err != nil {
		local.Close()
		return nil, err
	}
	if err := local.Truncate(stream.Offset); err != nil {
		stream.Body.Close()
		local.Close()
		return nil, err
	}
	if _, err := local.Seek(stream.Offset, io.SeekStart); err != nil {
		stream.Body.Close()
		local.Close()
		return nil, err
	}

	flight := &inFlight{remote: stream.Body, local: local}
	if stream.Length > 0 {
		flight.end = stream.Offset + stream.Length
	}
	c.mu.Lock()
	e.flight = flight
	e.state = StateInFlight
	c.mu.Unlock()

	if stream.Offset > 0 {
		c.logger.WithFields(logging.FetchFields(e.url, fetch.SchemeOf(e.url), 0)).
			WithField("offset", stream.Offset).Debug("fetch_resume")
	}
	return flight, nil
}

// closeFlight 关闭在途配对，未完成的条目回到 Empty，本地部分文件保留以便续传。
func (c *Cache) closeFlight(e *entry) error {
	c.mu.Lock()
	flight := e.flight
	e.flight = nil
	if e.state == StateInFlight {
		e.state = StateEmpty
	}
	c.mu.Unlock()

	if flight == nil {
		return nil
	}
	remoteErr := flight.remote.Close()
	localErr := flight.local.Close()
	if localErr != nil {
		return localErr
	}
	return remoteErr
}

func (c *Cache) clobber(rawURL, reason string) error {
	c.mu.Lock()
	e, ok := c.entries[rawURL]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	_ = c.closeFlight(e)
	if err := os.Remove(e.localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	c.mu.Lock()
	delete(c.entries, rawURL)
	c.mu.Unlock()
	metrics.CacheEvictions.WithLabelValues(reason).Inc()
	return nil
}

func (c *Cache) lockEntry(key string) func() {
	c.mu.Lock()
	lock := c.locks[key]
	if lock == nil {
		lock = &entryLock{}
		c.locks[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// pathFor 计算 <root>/<blake3(url) 前 16 位>/<basename>，同名文件来自不同源时互不覆盖。
func pathFor(root, rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	return filepath.Join(root, hex.EncodeToString(sum[:])[:16], basename(rawURL))
}

func basename(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	base := path.Base(p)
	if base == "" || base == "." || base == "/" || base == ".." {
		return "index"
	}
	return base
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
