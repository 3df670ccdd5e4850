package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/any-hub/any-install/internal/fetch"
)

// State 是单个 URL 条目的生命周期状态。
type State int

const (
	StateEmpty State = iota
	StateInFlight
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInFlight:
		return "in_flight"
	case StateComplete:
		return "complete"
	default:
		return "empty"
	}
}

// Status 是一次 Fetch 的结果，取代以异常控制循环的写法。
type Status int

const (
	StatusFailed Status = iota
	StatusCompleted
	// StatusPartialStopped 表示有界下载已拿到所需前缀，条目保持未完成。
	StatusPartialStopped
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusPartialStopped:
		return "partial"
	default:
		return "failed"
	}
}

// RelocatePolicy 决定缓存根迁移时旧条目的去向。
type RelocatePolicy int

const (
	RelocateMove RelocatePolicy = iota
	RelocateDelete
	RelocateOrphan
)

func (p RelocatePolicy) String() string {
	switch p {
	case RelocateDelete:
		return "delete"
	case RelocateOrphan:
		return "orphan"
	default:
		return "move"
	}
}

// Opener 是缓存依赖的下载入口，*fetch.Fetcher 满足该接口。
type Opener interface {
	Open(ctx context.Context, rawURL string, offset int64) (*fetch.Stream, error)
	Resumable(rawURL string) bool
}

// VerifyFunc 在流结束后对本地文件做完整性校验，返回错误即视为损坏。
type VerifyFunc func(path string) error

// FetchOptions 控制一次 Fetch。Limit > 0 表示只需要文件前 Limit 字节。
type FetchOptions struct {
	Limit  int64
	Verify VerifyFunc
}

// EntryInfo 是条目的只读快照，供诊断接口展示。
type EntryInfo struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
	State     string `json:"state"`
	SizeBytes int64  `json:"size_bytes"`
}

// ErrNotFound 表示 URL 没有对应的缓存条目。
var ErrNotFound = errors.New("cache entry not found")

// IntegrityError 表示下载完成后的校验失败，条目已被清除。
type IntegrityError struct {
	URL  string
	Path string
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s (%s): %v", e.URL, e.Path, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// inFlight 把远端流与正在写入的本地文件绑在一起，同一 URL 同时至多一对。
type inFlight struct {
	remote io.ReadCloser
	local  *os.File
	// end 是远端声明的文件末尾偏移，<= 0 表示未知。
	end    int64
}

// entry 是 URL 的唯一状态记录，字段由 Cache.mu 保护。
type entry struct {
	url       string
	localPath string
	state     State
	flight    *inFlight
}
