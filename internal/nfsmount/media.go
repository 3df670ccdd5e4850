package nfsmount

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
)

// Media 按需挂载安装介质（光盘或 U 盘），供 file:// 源在文件缺失时调用。
type Media struct {
	mounter    Mounter
	device     string
	fstype     string
	mountPoint string
	logger     *logrus.Logger

	mu      sync.Mutex
	mounted bool
}

// NewMedia 创建介质挂载器；device 为空时 MountMedia 不做任何事。
func NewMedia(m Mounter, device, fstype, mountPoint string, logger *logrus.Logger) *Media {
	return &Media{
		mounter:    m,
		device:     device,
		fstype:     fstype,
		mountPoint: mountPoint,
		logger:     logging.OrDiscard(logger),
	}
}

// MountMedia 挂载介质，已挂载时直接返回。
func (m *Media) MountMedia(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mounted || m.device == "" {
		return nil
	}
	if err := m.mounter.Mount(ctx, m.fstype, m.device, m.mountPoint, "ro"); err != nil {
		return err
	}
	m.mounted = true
	m.logger.WithFields(logrus.Fields{
		"action":      "media_mount",
		"device":      m.device,
		"mount_point": m.mountPoint,
	}).Info("media_mounted")
	return nil
}

// Release 卸载介质。
func (m *Media) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		return nil
	}
	if err := m.mounter.Unmount(m.mountPoint); err != nil {
		return err
	}
	m.mounted = false
	return nil
}
