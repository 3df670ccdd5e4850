package fetch

import (
	"errors"
	"fmt"

	"github.com/any-hub/any-install/internal/logging"
)

// ErrUnsupportedScheme 表示 URL 的协议没有对应的 opener。
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// FetchError 在重试次数耗尽后返回，记录 URL 与实际尝试次数。
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", logging.RedactURL(e.URL), e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPStatusError 描述上游返回的非成功状态码，RedirectedTo 非空表示发生过重定向。
type HTTPStatusError struct {
	URL          string
	StatusCode   int
	RedirectedTo string
}

func (e *HTTPStatusError) Error() string {
	if e.RedirectedTo != "" {
		return fmt.Sprintf("GET %s: status %d (redirected to %s)", logging.RedactURL(e.URL), e.StatusCode, logging.RedactURL(e.RedirectedTo))
	}
	return fmt.Sprintf("GET %s: status %d", logging.RedactURL(e.URL), e.StatusCode)
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不应重试的错误，例如安装介质挂载后仍然缺失的文件。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent 判断 err 链上是否存在 Permanent 标记。
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
