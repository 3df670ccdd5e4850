// Package txntest provides a scriptable in-memory txn.Backend for tests.
package txntest

import (
	"context"
	"errors"
	"sync"

	"github.com/any-hub/any-install/internal/txn"
)

// Added 记录一次 AddInstall。
type Added struct {
	Header any
	Key    any
	Mode   txn.Mode
}

// Backend 按脚本返回 Check 结果，Run 时为每个安装模式的包依次发出 open/close 事件。
type Backend struct {
	mu sync.Mutex

	// Checks 是按调用顺序返回的未满足依赖列表，用完后 Check 返回空。
	Checks [][]txn.Unresolved
	// Script 非空时 Run 按原样发送这些事件，否则自动生成。
	Script []txn.Event
	// ProblemList 是 Problems 的返回值。
	ProblemList []string
	// RunErr 在所有事件处理成功后返回。
	RunErr error

	Added      []Added
	CheckCalls int
	Ordered    bool
	Whiteouts  []txn.Edge
	Opened     []string
}

var _ txn.Backend = (*Backend)(nil)
var _ txn.Whiteouter = (*Backend)(nil)

func (b *Backend) AddInstall(header any, key any, mode txn.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Added = append(b.Added, Added{Header: header, Key: key, Mode: mode})
	return nil
}

func (b *Backend) Check(conflict txn.ConflictFunc) ([]txn.Unresolved, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.CheckCalls
	b.CheckCalls++
	if idx < len(b.Checks) {
		return b.Checks[idx], nil
	}
	return nil, nil
}

func (b *Backend) Order() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Ordered = true
	return nil
}

func (b *Backend) Problems() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ProblemList
}

func (b *Backend) SetWhiteout(edges []txn.Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Whiteouts = append(b.Whiteouts, edges...)
	return nil
}

// Run 发送事件。open 返回的文件在 close 事件之后由回调负责关闭。
func (b *Backend) Run(ctx context.Context, cb txn.Callback, _ txn.RunFlags) error {
	events := b.events()
	for _, ev := range events {
		f, err := cb(ctx, ev)
		if err != nil {
			return err
		}
		if ev.Kind == txn.EventOpenFile {
			if f == nil {
				return errors.New("open callback returned no file")
			}
			b.mu.Lock()
			b.Opened = append(b.Opened, f.Name())
			b.mu.Unlock()
		}
	}
	return b.RunErr
}

// Keys 返回以指定模式加入的全部 key。
func (b *Backend) Keys(mode txn.Mode) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []any
	for _, a := range b.Added {
		if a.Mode == mode {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

func (b *Backend) events() []txn.Event {
	if b.Script != nil {
		return b.Script
	}
	keys := b.Keys(txn.ModeInstall)
	events := []txn.Event{{Kind: txn.EventTransactionStart, Total: int64(len(keys))}}
	for i, key := range keys {
		events = append(events,
			txn.Event{Kind: txn.EventOpenFile, Key: key},
			txn.Event{Kind: txn.EventTransactionProgress, Key: key, Amount: int64(i + 1), Total: int64(len(keys))},
			txn.Event{Kind: txn.EventCloseFile, Key: key},
		)
	}
	return append(events, txn.Event{Kind: txn.EventTransactionStop})
}
