package nfsmount

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
)

// Mounter 封装真实的 mount/umount 操作，测试中以内存实现替换。
type Mounter interface {
	Mount(ctx context.Context, fstype, source, target, options string) error
	MountLoop(ctx context.Context, image, target string) error
	Unmount(target string) error
}

// Manager 维护唯一的活动 NFS 挂载（以及可选的 loop 挂载）。
type Manager struct {
	mounter    Mounter
	mountPoint string
	loopPoint  string
	options    string
	logger     *logrus.Logger

	mu      sync.Mutex
	current *mounted
}

type mounted struct {
	host    string
	root    string
	archive string
}

// NewManager builds a Manager mounting exports on mountPoint and archives on loopPoint.
func NewManager(m Mounter, mountPoint, loopPoint, options string, logger *logrus.Logger) *Manager {
	return &Manager{
		mounter:    m,
		mountPoint: mountPoint,
		loopPoint:  loopPoint,
		options:    options,
		logger:     logging.OrDiscard(logger),
	}
}

// Resolve 把 nfs:// 地址映射为本地路径，必要时卸载旧挂载并按候选根逐一尝试。
// 所有候选都失败时返回错误。
func (m *Manager) Resolve(ctx context.Context, rawURL string) (string, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if local, ok := m.reuse(target); ok {
		return local, nil
	}

	if err := m.unmountLocked(); err != nil {
		return "", err
	}

	var tried []string
	for _, cand := range Candidates(target.Dir) {
		source := target.Host + ":" + cand.Root
		fields := logrus.Fields{"action": "nfs_mount", "source": source, "mount_point": m.mountPoint}
		if err := m.mounter.Mount(ctx, "nfs", source, m.mountPoint, m.options); err != nil {
			m.logger.WithFields(fields).WithError(err).Debug("nfs_mount_candidate_failed")
			tried = append(tried, source)
			continue
		}
		if cand.Archive != "" {
			image := filepath.Join(m.mountPoint, cand.Archive)
			if err := m.mounter.MountLoop(ctx, image, m.loopPoint); err != nil {
				m.logger.WithFields(fields).WithError(err).Warn("nfs_loop_mount_failed")
				_ = m.mounter.Unmount(m.mountPoint)
				tried = append(tried, source+"/"+cand.Archive)
				continue
			}
		}
		m.current = &mounted{host: target.Host, root: cand.Root, archive: cand.Archive}
		m.logger.WithFields(fields).WithField("archive", cand.Archive).Info("nfs_mounted")
		return m.localPath(target), nil
	}

	return "", fmt.Errorf("unable to mount any export for %s (tried %s)", rawURL, strings.Join(tried, ", "))
}

// Release unmounts the active export, if any.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmountLocked()
}

// Current reports the active host and root, for diagnostics.
func (m *Manager) Current() (host, root string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", "", false
	}
	return m.current.host, m.current.root, true
}

// reuse 在主机一致且请求目录位于当前根之下时直接复用已有挂载；
// 跨入/跨出镜像文件时需要重新挂载。
func (m *Manager) reuse(t Target) (string, bool) {
	cur := m.current
	if cur == nil || cur.host != t.Host || !under(t.Dir, cur.root) {
		return "", false
	}
	archive := ""
	if cands := Candidates(t.Dir); len(cands) == 1 && cands[0].Archive != "" {
		if cands[0].Root != cur.root {
			return "", false
		}
		archive = cands[0].Archive
	}
	if archive != cur.archive {
		return "", false
	}
	return m.localPath(t), true
}

func (m *Manager) localPath(t Target) string {
	cur := m.current
	if cur.archive != "" {
		base := path.Join(cur.root, cur.archive)
		rel := strings.TrimPrefix(strings.TrimPrefix(t.Dir, base), "/")
		return filepath.Join(m.loopPoint, filepath.FromSlash(rel), t.File)
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(t.Dir, cur.root), "/")
	return filepath.Join(m.mountPoint, filepath.FromSlash(rel), t.File)
}

func (m *Manager) unmountLocked() error {
	if m.current == nil {
		return nil
	}
	if m.current.archive != "" {
		if err := m.mounter.Unmount(m.loopPoint); err != nil {
			return fmt.Errorf("unmount %s: %w", m.loopPoint, err)
		}
	}
	if err := m.mounter.Unmount(m.mountPoint); err != nil {
		return fmt.Errorf("unmount %s: %w", m.mountPoint, err)
	}
	m.logger.WithFields(logrus.Fields{
		"action": "nfs_unmount",
		"source": m.current.host + ":" + m.current.root,
	}).Info("nfs_unmounted")
	m.current = nil
	return nil
}
