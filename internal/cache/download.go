package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/fetch"
	"github.com/any-hub/any-install/internal/logging"
	"github.com/any-hub/any-install/internal/metrics"
)

// Fetch 确保 rawURL 的字节已在缓存中。
//
// 无界下载读到短块即认为流结束，随后执行 opts.Verify，通过后标记完成；
// 有界下载（opts.Limit > 0）在本地文件达到 Limit 后停止，不标记完成，
// 在途配对保留给后续下载继续使用。失败按协议上限重试，两次尝试之间固定等待，
// 耗尽后返回 *fetch.FetchError。同一 URL 的并发无界下载共享一次传输。
func (c *Cache) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (Status, error) {
	if opts.Limit > 0 {
		return c.fetch(ctx, rawURL, opts)
	}
	v, err, _ := c.group.Do(rawURL, func() (interface{}, error) {
		return c.fetch(ctx, rawURL, opts)
	})
	status, _ := v.(Status)
	return status, err
}

func (c *Cache) fetch(ctx context.Context, rawURL string, opts FetchOptions) (Status, error) {
	unlock := c.lockEntry(rawURL)
	defer unlock()

	if c.completeOnDisk(rawURL) {
		return StatusCompleted, nil
	}

	scheme := fetch.SchemeOf(rawURL)
	maxAttempts := fetch.MaxAttemptsFor(rawURL)

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
		attempts = attempt

		c.mu.Lock()
		e := c.entryLocked(rawURL)
		c.mu.Unlock()

		status, err := c.transfer(ctx, e, opts)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues(scheme, status.String()).Inc()
			return status, nil
		}
		lastErr = err

		fields := logging.FetchFields(rawURL, scheme, attempt)
		var integrity *IntegrityError
		if !errors.As(err, &integrity) {
			// 断开的流不能续用，部分文件保留，下一次尝试按偏移续传。
			_ = c.closeFlight(e)
		}
		if fetch.IsPermanent(err) || ctx.Err() != nil {
			metrics.FetchAttempts.WithLabelValues(scheme, "failed").Inc()
			c.logger.WithFields(fields).WithError(err).Warn("fetch_attempt_aborted")
			break
		}
		metrics.FetchAttempts.WithLabelValues(scheme, "retry").Inc()
		c.logger.WithFields(fields).WithFields(logrus.Fields{
			"max_attempts": maxAttempts,
		}).WithError(err).Warn("fetch_attempt_failed")
	}

	fetchErr := &fetch.FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
	c.logger.WithFields(logging.FetchFields(rawURL, scheme, attempts)).WithError(lastErr).Error("fetch_failed")
	return StatusFailed, fetchErr
}

// completeOnDisk 在条目已完成且文件仍存在时返回 true；文件丢失则重置条目。
func (c *Cache) completeOnDisk(rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rawURL]
	if !ok || e.state != StateComplete {
		return false
	}
	if _, err := os.Stat(e.localPath); err != nil {
		e.state = StateEmpty
		metrics.CacheEvictions.WithLabelValues("vanished").Inc()
		return false
	}
	return true
}

// transfer 执行一次尝试：打开或复用在途配对，按块拷贝直到流结束或达到 Limit。
func (c *Cache) transfer(ctx context.Context, e *entry, opts FetchOptions) (Status, error) {
	flight, err := c.remoteOpen(ctx, e)
	if err != nil {
		return StatusFailed, err
	}

	pos, err := flight.local.Seek(0, io.SeekCurrent)
	if err != nil {
		return StatusFailed, err
	}
	if opts.Limit > 0 && pos >= opts.Limit {
		return StatusPartialStopped, nil
	}

	scheme := fetch.SchemeOf(e.url)
	buf := make([]byte, c.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return StatusFailed, err
		}

		n, eof, readErr := readChunk(flight.remote, buf)
		if n > 0 {
			if _, err := flight.local.Write(buf[:n]); err != nil {
				return StatusFailed, err
			}
			pos += int64(n)
			metrics.FetchBytes.WithLabelValues(scheme).Add(float64(n))
		}
		if readErr != nil {
			// 已写入的字节保留，下一次尝试从 pos 续传。
			return StatusFailed, readErr
		}

		if eof {
			if flight.end > 0 && pos < flight.end {
				return StatusFailed, fmt.Errorf("stream ended at %d of %d bytes: %w", pos, flight.end, io.ErrUnexpectedEOF)
			}
			return c.finish(e, opts)
		}
		if opts.Limit > 0 && pos >= opts.Limit {
			return StatusPartialStopped, nil
		}
	}
}

// readChunk 尽量填满 buf。只有干净的 io.EOF 才算流结束（短块），
// 其余错误（包括连接中断时的 io.ErrUnexpectedEOF）原样返回。
func readChunk(r io.Reader, buf []byte) (n int, eof bool, err error) {
	for n < len(buf) {
		m, readErr := r.Read(buf[n:])
		n += m
		if readErr == io.EOF {
			return n, true, nil
		}
		if readErr != nil {
			return n, false, readErr
		}
	}
	return n, false, nil
}

// finish 处理流结束：关闭配对，有界下载直接返回，否则校验后标记完成。
func (c *Cache) finish(e *entry, opts FetchOptions) (Status, error) {
	c.mu.Lock()
	flight := e.flight
	c.mu.Unlock()
	if flight != nil {
		if err := flight.local.Sync(); err != nil {
			return StatusFailed, err
		}
	}
	if err := c.closeFlight(e); err != nil {
		return StatusFailed, err
	}
	if opts.Limit > 0 {
		return StatusPartialStopped, nil
	}

	if opts.Verify != nil {
		if err := opts.Verify(e.localPath); err != nil {
			integrity := &IntegrityError{URL: e.url, Path: e.localPath, Err: err}
			c.logger.WithFields(logging.FetchFields(e.url, fetch.SchemeOf(e.url), 0)).
				WithField("path", e.localPath).WithError(err).Warn("cache_integrity_failed")
			if clobberErr := c.clobber(e.url, "integrity"); clobberErr != nil {
				return StatusFailed, clobberErr
			}
			return StatusFailed, integrity
		}
	}

	c.mu.Lock()
	e.state = StateComplete
	c.mu.Unlock()
	return StatusCompleted, nil
}
