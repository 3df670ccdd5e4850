package nfsmount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExecMounter 通过系统 mount 命令挂载，卸载走 unmount(2)。
type ExecMounter struct{}

// Mount 执行 mount -t fstype [-o options] source target。
func (ExecMounter) Mount(ctx context.Context, fstype, source, target, options string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create mount point %s: %w", target, err)
	}
	args := []string{"-t", fstype}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, source, target)
	return runMount(ctx, args...)
}

// MountLoop 以只读 loop 方式挂载镜像文件。
func (ExecMounter) MountLoop(ctx context.Context, image, target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create mount point %s: %w", target, err)
	}
	return runMount(ctx, "-o", "loop,ro", image, target)
}

// Unmount 卸载 target；未挂载视为成功。
func (ExecMounter) Unmount(target string) error {
	return unmount(target)
}

func runMount(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "mount", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
