//go:build integration

// Package vm manages the throwaway virtual machine the integration
// suite mounts disk images in.
package vm

import (
	"context"
	"time"
)

// VM is a running virtual machine the tests can command over SSH.
type VM interface {
	Run(cmd string) (string, error)
	RunWithTimeout(ctx context.Context, cmd string, timeout time.Duration) (string, error)
	CopyFile(localPath, remotePath string) error
	Stop()
	IsRunning() bool
	WaitForSSH(ctx context.Context) error
}
