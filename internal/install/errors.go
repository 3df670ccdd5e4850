package install

import "fmt"

// BackendTransactionError 表示事务运行中的致命错误（解包失败、cpio 错误、未知事件等），
// 出现后剩余事务全部放弃。
type BackendTransactionError struct {
	Kind    string
	Package string
	Path    string
	Err     error
}

func (e *BackendTransactionError) Error() string {
	msg := "transaction " + e.Kind
	if e.Package != "" {
		msg += " in " + e.Package
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendTransactionError) Unwrap() error {
	return e.Err
}
