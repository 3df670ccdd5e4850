// Package packages models one installable package file: where it lives, how big
// it is, which byte range holds its metadata header, and how to obtain either the
// header alone (bounded fetch) or the full body (verified fetch).
package packages

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/catalog"
	"github.com/any-hub/any-install/internal/logging"
)

// Store 是 Package 依赖的缓存能力，*cache.Cache 满足该接口。
type Store interface {
	Fetch(ctx context.Context, rawURL string, opts cache.FetchOptions) (cache.Status, error)
	LocalPath(rawURL string) string
	Clobber(rawURL string) error
	// Detach 关闭有界下载留下的在途连接，本地部分文件保留。
	Detach(rawURL string) error
}

// HeaderDecoder 把原始头部字节解码成事务后端能识别的对象。
type HeaderDecoder interface {
	DecodeHeader(raw []byte) (any, error)
}

// HeaderDecoderFunc 让普通函数满足 HeaderDecoder。
type HeaderDecoderFunc func(raw []byte) (any, error)

// DecodeHeader makes HeaderDecoderFunc satisfy HeaderDecoder.
func (f HeaderDecoderFunc) DecodeHeader(raw []byte) (any, error) { return f(raw) }

// Env 汇总构造 Package 时共享的依赖。
type Env struct {
	Store   Store
	Decoder HeaderDecoder
	Logger  *logrus.Logger
	// SizeCheckExceptions 中的逻辑名在大小不符时只告警。
	SizeCheckExceptions []string
}

// Package 以源 URL 为身份。
type Package struct {
	Name     string
	Basename string
	URL      string
	Tier     catalog.Tier
	Size     int64

	store     Store
	decoder   HeaderDecoder
	logger    *logrus.Logger
	sizeWarns bool

	mu        sync.Mutex
	header    Range
	headerRaw []byte
	decoded   any
	hasHeader bool
}

// FromCatalog 为目录中的每个条目创建 Package，保持目录顺序。
func FromCatalog(cat *catalog.Catalog, env Env) []*Package {
	out := make([]*Package, 0, len(cat.Entries))
	for _, e := range cat.Entries {
		p := newPackage(e.Name, e.URL, e.Tier, e.Size, env)
		p.Basename = e.Basename
		p.header = Range{Start: e.HeaderStart, End: e.HeaderEnd}
		out = append(out, p)
	}
	return out
}

// Register 直接登记不在索引中的包（例如补充驱动盘），头部区间在首次读取时探测。
func Register(name, rawURL string, size int64, tier catalog.Tier, env Env) *Package {
	return newPackage(name, rawURL, tier, size, env)
}

func newPackage(name, rawURL string, tier catalog.Tier, size int64, env Env) *Package {
	p := &Package{
		Name:     name,
		Basename: path.Base(rawURL),
		URL:      rawURL,
		Tier:     tier,
		Size:     size,
		store:    env.Store,
		decoder:  env.Decoder,
		logger:   logging.OrDiscard(env.Logger),
	}
	for _, exempt := range env.SizeCheckExceptions {
		if exempt == name {
			p.sizeWarns = true
			break
		}
	}
	return p
}

// SizeMB 返回以 MB 计的声明大小（向上取整），进度权重使用该值。
// 非空的包至少计 1，避免小包在进度条上没有权重。
func (p *Package) SizeMB() int64 {
	const mb = 1024 * 1024
	if p.Size <= 0 {
		return 0
	}
	return (p.Size + mb - 1) / mb
}

// HeaderRange 返回已知的头部区间；尚未探测时返回 false。
func (p *Package) HeaderRange() (Range, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header, p.header.End > 0
}

// Probe 通过两次有界下载计算直接登记的包的头部区间。
func (p *Package) Probe(ctx context.Context) (Range, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.detach()
	return p.probeLocked(ctx)
}

func (p *Package) probeLocked(ctx context.Context) (Range, error) {
	if p.header.End > 0 {
		return p.header, nil
	}
	if _, err := p.store.Fetch(ctx, p.URL, cache.FetchOptions{Limit: ProbeLimit}); err != nil {
		return Range{}, err
	}
	start, err := p.withLocal(func(r io.ReaderAt) (int64, error) { return HeaderStart(r) })
	if err != nil {
		return Range{}, fmt.Errorf("probe %s: %w", p.Basename, err)
	}
	if _, err := p.store.Fetch(ctx, p.URL, cache.FetchOptions{Limit: start + introSize}); err != nil {
		return Range{}, err
	}

	var rng Range
	if _, err := p.withLocal(func(r io.ReaderAt) (int64, error) {
		var rangeErr error
		rng, rangeErr = HeaderRange(r)
		return 0, rangeErr
	}); err != nil {
		return Range{}, fmt.Errorf("probe %s: %w", p.Basename, err)
	}
	if p.Size > 0 && rng.End > p.Size {
		return Range{}, fmt.Errorf("probe %s: header end %d beyond size %d", p.Basename, rng.End, p.Size)
	}
	p.header = rng
	p.logger.WithFields(logging.PackageFields(p.Name, p.Basename, string(p.Tier))).
		WithFields(logrus.Fields{"header_start": rng.Start, "header_end": rng.End}).Debug("package_header_probed")
	return rng, nil
}

// HeaderBytes 只下载到头部结束位置，返回 [start, end) 区间的字节，不会把条目标记为完成。
func (p *Package) HeaderBytes(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headerBytesLocked(ctx)
}

func (p *Package) headerBytesLocked(ctx context.Context) ([]byte, error) {
	if p.headerRaw != nil {
		return p.headerRaw, nil
	}
	// 头部读完后连接不再需要；包体稍后由 LocalPath 按偏移续传。
	defer p.detach()
	rng, err := p.probeLocked(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.Fetch(ctx, p.URL, cache.FetchOptions{Limit: rng.End}); err != nil {
		return nil, err
	}

	raw := make([]byte, rng.Size())
	if _, err := p.withLocal(func(r io.ReaderAt) (int64, error) {
		n, readErr := r.ReadAt(raw, rng.Start)
		return int64(n), readErr
	}); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", p.Basename, err)
	}
	p.headerRaw = raw
	return raw, nil
}

// Header 解码并缓存头部；未配置解码器时返回原始字节。
func (p *Package) Header(ctx context.Context) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasHeader {
		return p.decoded, nil
	}
	raw, err := p.headerBytesLocked(ctx)
	if err != nil {
		return nil, err
	}
	var decoded any = raw
	if p.decoder != nil {
		if decoded, err = p.decoder.DecodeHeader(raw); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", p.Basename, err)
		}
	}
	p.decoded = decoded
	p.hasHeader = true
	return decoded, nil
}

// LocalPath 阻塞直到完整包体已缓存并通过大小校验，返回本地路径。
func (p *Package) LocalPath(ctx context.Context) (string, error) {
	if _, err := p.store.Fetch(ctx, p.URL, cache.FetchOptions{Verify: p.verifySize}); err != nil {
		return "", err
	}
	return p.store.LocalPath(p.URL), nil
}

// Release 在事务后端消费完包体后删除本地副本。
func (p *Package) Release() error {
	return p.store.Clobber(p.URL)
}

func (p *Package) detach() {
	if err := p.store.Detach(p.URL); err != nil {
		p.logger.WithFields(logging.PackageFields(p.Name, p.Basename, string(p.Tier))).
			WithError(err).Warn("package_stream_detach_failed")
	}
}

func (p *Package) verifySize(localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if p.Size <= 0 || info.Size() == p.Size {
		return nil
	}
	mismatch := fmt.Errorf("downloaded %d bytes, expected %d", info.Size(), p.Size)
	if p.sizeWarns {
		p.logger.WithFields(logging.PackageFields(p.Name, p.Basename, string(p.Tier))).
			WithError(mismatch).Warn("package_size_mismatch_ignored")
		return nil
	}
	return mismatch
}

func (p *Package) withLocal(fn func(r io.ReaderAt) (int64, error)) (int64, error) {
	f, err := os.Open(p.store.LocalPath(p.URL))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return fn(f)
}
