// Package shell runs host and helper scripts that may leave daemons
// behind.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// WaitDelay bounds how long Run waits for the process group to go away
// after the context is done.
const WaitDelay = 2 * time.Second

// Run starts cmd through start and waits for the command itself to exit.
// cmd must come from exec.CommandContext. Output is collected in an
// unlinked file instead of a pipe, so background processes the command
// leaves running do not hold Wait open and can keep writing. When ctx is
// done the whole process group is killed.
//
// start is usually cmd.Start; callers that need the child created in a
// particular namespace wrap it.
func Run(ctx context.Context, cmd *exec.Cmd, start func() error) (string, error) {
	f, err := os.CreateTemp("", "dotcap-out-")
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	if err := os.Remove(f.Name()); err != nil {
		return "", fmt.Errorf("unlink output file: %w", err)
	}

	cmd.Stdout = f
	cmd.Stderr = f
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = WaitDelay

	if err := start(); err != nil {
		return "", err
	}
	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}
	if waitErr != nil && ctx.Err() != nil {
		waitErr = fmt.Errorf("%w: %v", ctx.Err(), waitErr)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", errors.Join(waitErr, fmt.Errorf("rewind output: %w", err))
	}
	out, err := io.ReadAll(f)
	if err != nil {
		return "", errors.Join(waitErr, fmt.Errorf("read output: %w", err))
	}
	return string(out), waitErr
}
