// Package txn describes the transaction backend the installer drives: packages
// are added in install or available mode, dependencies are checked and ordered,
// and the run reports per-package events through a callback.
package txn

import (
	"context"
	"fmt"
	"os"
)

// Mode 决定包加入事务的方式。
type Mode int

const (
	// ModeInstall 表示包会被安装。
	ModeInstall Mode = iota
	// ModeAvailable 表示包只用于满足其他包的依赖，本身不安装。
	ModeAvailable
)

func (m Mode) String() string {
	if m == ModeAvailable {
		return "available"
	}
	return "install"
}

// Unresolved 是 Check 报告的一条未满足依赖。
type Unresolved struct {
	// Requiring 是提出需求的包名。
	Requiring string
	// Requirement 是需求的文本描述，例如 "libfoo.so.1"。
	Requirement string
	// Suggested 是后端给出的可满足该需求的包名，为空表示没有建议。
	Suggested string
}

func (u Unresolved) String() string {
	return fmt.Sprintf("%s requires %s", u.Requiring, u.Requirement)
}

// ConflictFunc 在 Check 过程中接收冲突报告。
type ConflictFunc func(description string)

// EventKind 是事务运行期间的回调类型。
type EventKind int

const (
	EventUnknown EventKind = iota
	EventTransactionStart
	EventTransactionProgress
	EventTransactionStop
	EventOpenFile
	EventCloseFile
	EventUnpackError
	EventCPIOError
)

func (k EventKind) String() string {
	switch k {
	case EventTransactionStart:
		return "trans_start"
	case EventTransactionProgress:
		return "trans_progress"
	case EventTransactionStop:
		return "trans_stop"
	case EventOpenFile:
		return "open_file"
	case EventCloseFile:
		return "close_file"
	case EventUnpackError:
		return "unpack_error"
	case EventCPIOError:
		return "cpio_error"
	default:
		return "unknown"
	}
}

// Event 是一次回调。Key 是 AddInstall 时传入的包对象，Path 为出错的文件路径（可选）。
type Event struct {
	Kind   EventKind
	Key    any
	Path   string
	Amount int64
	Total  int64
}

// Callback 处理事务事件。EventOpenFile 必须返回一个已打开的文件，其余事件返回 nil。
type Callback func(ctx context.Context, ev Event) (*os.File, error)

// RunFlags 透传给后端的运行参数。
type RunFlags struct {
	Test      bool
	NoScripts bool
}

// Backend 是外部事务/依赖求解器的契约。
type Backend interface {
	AddInstall(header any, key any, mode Mode) error
	Check(conflict ConflictFunc) ([]Unresolved, error)
	Order() error
	Run(ctx context.Context, cb Callback, flags RunFlags) error
	Problems() []string
}

// Whiteouter 由支持忽略依赖边的后端实现。
type Whiteouter interface {
	SetWhiteout(edges []Edge) error
}

// Edge 是一条被忽略的依赖：Requiring 对 Provided 的依赖不参与求解。
type Edge struct {
	Requiring string
	Provided  string
}
