package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/metrics"
)

// Relocate 把缓存根切换到 newDir，并按 policy 处理已有条目：
// move 迁移文件并保留记录，delete 删除文件与记录，orphan 只丢弃记录、文件留在原处。
// 在途配对一律显式关闭并记录日志，被放弃的部分文件都会写入日志。
func (c *Cache) Relocate(newDir string, policy RelocatePolicy) error {
	abs, err := filepath.Abs(newDir)
	if err != nil {
		return fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	c.mu.Lock()
	oldRoot := c.root
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		fields := logrus.Fields{"action": "cache_relocate", "policy": policy.String(), "path": e.localPath}

		c.mu.Lock()
		wasInFlight := e.flight != nil
		c.mu.Unlock()
		if wasInFlight {
			if err := c.closeFlight(e); err != nil {
				c.logger.WithFields(fields).WithError(err).Warn("cache_relocate_close_failed")
			}
			c.logger.WithFields(fields).Warn("cache_relocate_in_flight_closed")
		}

		switch policy {
		case RelocateMove:
			target := pathFor(abs, e.url)
			if err := moveFile(e.localPath, target); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					c.mu.Lock()
					e.localPath = target
					c.mu.Unlock()
					continue
				}
				errs = append(errs, err)
				continue
			}
			c.mu.Lock()
			e.localPath = target
			c.mu.Unlock()
		case RelocateDelete:
			if err := os.Remove(e.localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			c.forget(e.url)
			metrics.CacheEvictions.WithLabelValues("relocate_delete").Inc()
		case RelocateOrphan:
			if _, err := os.Stat(e.localPath); err == nil {
				c.logger.WithFields(fields).Info("cache_entry_orphaned")
			}
			c.forget(e.url)
			metrics.CacheEvictions.WithLabelValues("relocate_orphan").Inc()
		default:
			return fmt.Errorf("unknown relocate policy %d", policy)
		}
	}

	c.mu.Lock()
	c.root = abs
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"action": "cache_relocate",
		"from":   oldRoot,
		"to":     abs,
		"policy": policy.String(),
	}).Info("cache_relocated")

	return errors.Join(errs...)
}

func (c *Cache) forget(rawURL string) {
	c.mu.Lock()
	delete(c.entries, rawURL)
	c.mu.Unlock()
}

// moveFile 优先 rename，跨文件系统时退化为复制后删除。
func moveFile(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".relocate-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = io.Copy(tmp, in)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}
