package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
)

// Stream 是一次 Open 的结果。Offset 是 Body 实际开始的字节偏移，
// 服务端不支持续传时 Offset 为 0，调用方需要据此截断本地文件。
// Length 是 Body 声明的字节数（如 Content-Length），<= 0 表示未知。
type Stream struct {
	Body   io.ReadCloser
	Offset int64
	Length int64
}

// Opener 从给定偏移打开 rawURL 对应的只读字节流。
type Opener interface {
	Open(ctx context.Context, rawURL string, offset int64) (*Stream, error)
}

// OpenerFunc 让普通函数满足 Opener 接口，测试中常用。
type OpenerFunc func(ctx context.Context, rawURL string, offset int64) (*Stream, error)

// Open makes OpenerFunc satisfy Opener.
func (f OpenerFunc) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	return f(ctx, rawURL, offset)
}

// MediaMounter 负责挂载 file:// 所在的安装介质（光盘、U 盘）。
type MediaMounter interface {
	MountMedia(ctx context.Context) error
}

// NFSResolver 把 nfs:// URL 解析成本地挂载后的文件路径。
type NFSResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Fetcher 按 scheme 分发到具体 opener，是 cache 包唯一依赖的下载入口。
type Fetcher struct {
	openers map[string]Opener
	logger  *logrus.Logger
}

// Option 配置 Fetcher。
type Option func(*fetcherOptions)

type fetcherOptions struct {
	media           MediaMounter
	mediaMountPoint string
	nfs             NFSResolver
	overrides       map[string]Opener
}

// WithMedia 配置 file:// 的介质挂载器与挂载点。
func WithMedia(m MediaMounter, mountPoint string) Option {
	return func(o *fetcherOptions) {
		o.media = m
		o.mediaMountPoint = mountPoint
	}
}

// WithNFS 配置 nfs:// 的挂载解析器。
func WithNFS(r NFSResolver) Option {
	return func(o *fetcherOptions) {
		o.nfs = r
	}
}

// WithOpener 替换某个 scheme 的 opener，主要用于测试注入故障。
func WithOpener(scheme string, opener Opener) Option {
	return func(o *fetcherOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]Opener)
		}
		o.overrides[scheme] = opener
	}
}

// New 构造 Fetcher。session 为空时 http/https/ftp 不可用。
func New(session *Session, logger *logrus.Logger, opts ...Option) *Fetcher {
	var o fetcherOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrDiscard(logger)

	openers := map[string]Opener{
		"file": &fileOpener{media: o.media, mountPoint: o.mediaMountPoint, logger: logger},
		"nfs":  &nfsOpener{resolver: o.nfs},
	}
	if session != nil {
		h := &httpOpener{session: session, logger: logger}
		openers["http"] = h
		openers["https"] = h
		openers["ftp"] = &ftpOpener{session: session, logger: logger}
	}
	for scheme, opener := range o.overrides {
		openers[scheme] = opener
	}

	return &Fetcher{openers: openers, logger: logger}
}

// Open 按 rawURL 的 scheme 打开字节流。
func (f *Fetcher) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	scheme := SchemeOf(rawURL)
	opener, ok := f.openers[scheme]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme))
	}
	if offset < 0 {
		offset = 0
	}
	return opener.Open(ctx, rawURL, offset)
}

// Resumable 报告 rawURL 的协议是否支持从非零偏移续传。
func (f *Fetcher) Resumable(rawURL string) bool {
	meta, ok := Resolve(SchemeOf(rawURL))
	return ok && meta.Resumable
}
