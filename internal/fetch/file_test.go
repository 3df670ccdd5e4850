package fetch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/any-install/internal/logging"
)

type fakeMedia struct {
	calls  int
	create string
}

func (m *fakeMedia) MountMedia(context.Context) error {
	m.calls++
	if m.create != "" {
		return os.WriteFile(m.create, []byte("from-media"), 0o644)
	}
	return nil
}

func TestFileOpenMountsMediaWhenMissing(t *testing.T) {
	mountPoint := t.TempDir()
	target := filepath.Join(mountPoint, "Packages", "a.rpm")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	media := &fakeMedia{create: target}

	f := New(nil, logging.Discard(), WithMedia(media, mountPoint))
	stream, err := f.Open(context.Background(), "file://"+target, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Body.Close()

	if media.calls != 1 {
		t.Fatalf("expected one media mount, got %d", media.calls)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != "from-media" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFileOpenMissingAfterMountIsPermanent(t *testing.T) {
	mountPoint := t.TempDir()
	media := &fakeMedia{}
	f := New(nil, logging.Discard(), WithMedia(media, mountPoint))

	_, err := f.Open(context.Background(), "file://"+filepath.Join(mountPoint, "missing.rpm"), 0)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if media.calls != 1 {
		t.Fatalf("media should be mounted once before giving up, got %d", media.calls)
	}
}

func TestFileOpenOutsideMountPointSkipsMedia(t *testing.T) {
	media := &fakeMedia{}
	f := New(nil, logging.Discard(), WithMedia(media, "/mnt/source"))
	_, err := f.Open(context.Background(), "file://"+filepath.Join(t.TempDir(), "nope.rpm"), 0)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if media.calls != 0 {
		t.Fatalf("paths outside the mount point must not trigger a mount")
	}
}

func TestFileOpenSeeksToOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.rpm")
	if err := os.WriteFile(path, []byte("abcdefgh"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := New(nil, logging.Discard())

	stream, err := f.Open(context.Background(), "file://"+path, 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(stream.Body)
	stream.Body.Close()
	if stream.Offset != 3 || string(body) != "defgh" {
		t.Fatalf("unexpected offset/body: %d %q", stream.Offset, body)
	}

	stream, err = f.Open(context.Background(), "file://"+path, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stream.Body.Close()
	if stream.Offset != 0 {
		t.Fatalf("offset beyond EOF should restart from 0, got %d", stream.Offset)
	}
}

type fakeNFS struct {
	local string
	err   error
}

func (n fakeNFS) Resolve(context.Context, string) (string, error) {
	return n.local, n.err
}

func TestNFSOpenDelegatesToResolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.rpm")
	if err := os.WriteFile(path, []byte("nfs-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := New(nil, logging.Discard(), WithNFS(fakeNFS{local: path}))
	stream, err := f.Open(context.Background(), "nfs://filer/exports/b.rpm", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(stream.Body)
	stream.Body.Close()
	if string(body) != "nfs-bytes" {
		t.Fatalf("unexpected body %q", body)
	}

	mountErr := errors.New("no export")
	f = New(nil, logging.Discard(), WithNFS(fakeNFS{err: mountErr}))
	if _, err := f.Open(context.Background(), "nfs://filer/exports/b.rpm", 0); !errors.Is(err, mountErr) {
		t.Fatalf("resolver error should propagate, got %v", err)
	}
}
