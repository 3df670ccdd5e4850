//go:build !linux

package nfsmount

import "os/exec"

func unmount(target string) error {
	return exec.Command("umount", target).Run()
}
