package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

func init() {
	MustRegister(SchemeMetadata{
		Key:         "file",
		Description: "local path or installation media",
		MaxAttempts: 2,
		Resumable:   true,
	})
}

type fileOpener struct {
	media      MediaMounter
	mountPoint string
	logger     *logrus.Logger
}

func (o *fileOpener) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	path := strings.TrimPrefix(rawURL, "file://")
	if path == "" {
		return nil, Permanent(fmt.Errorf("empty file url: %q", rawURL))
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && o.underMountPoint(path) {
		o.logger.WithFields(logrus.Fields{
			"action":      "media_mount",
			"path":        path,
			"mount_point": o.mountPoint,
		}).Info("file missing, mounting installation media")
		if mountErr := o.media.MountMedia(ctx); mountErr != nil {
			return nil, fmt.Errorf("mount installation media for %s: %w", path, mountErr)
		}
	}

	stream, err := openLocal(path, offset)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Permanent(fmt.Errorf("%s is missing from the installation source; the media may be damaged or incomplete: %w", path, err))
	}
	return stream, err
}

func (o *fileOpener) underMountPoint(path string) bool {
	if o.media == nil || o.mountPoint == "" {
		return false
	}
	rel, err := filepath.Rel(o.mountPoint, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// openLocal 打开本地文件并定位到 offset；offset 超过文件大小时从头开始。
func openLocal(path string, offset int64) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if offset > info.Size() {
		offset = 0
	}
	if offset > 0 {
		if _, seekErr := f.Seek(offset, io.SeekStart); seekErr != nil {
			f.Close()
			return nil, seekErr
		}
	}
	return &Stream{Body: f, Offset: offset, Length: info.Size() - offset}, nil
}
