package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"dotcap/internal/shell"
)

// ScriptRuntime launches the controllers with a shell script run from the
// working directory in the root namespace. The script is expected to
// background the controllers; they are killed by kill.sh during teardown.
type ScriptRuntime struct {
	workDir string
	script  string
	log     *slog.Logger
	run     func(ctx context.Context, dir, command string) ([]byte, error)
}

func NewScriptRuntime(opts Options) *ScriptRuntime {
	script := opts.Script
	if script == "" {
		script = DefaultLaunchScript
	}
	return &ScriptRuntime{
		workDir: opts.WorkDir,
		script:  script,
		log:     opts.Logger,
		run:     runShell,
	}
}

func runShell(ctx context.Context, dir, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	out, err := shell.Run(ctx, cmd, cmd.Start)
	return []byte(out), err
}

func (r *ScriptRuntime) Start(ctx context.Context) error {
	r.log.Info("starting controllers", "script", r.script)

	out, err := r.run(ctx, r.workDir, r.script)
	if s := strings.TrimSpace(string(out)); s != "" {
		r.log.Debug("output", "script", r.script, "output", s)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", r.script, err)
	}
	return nil
}

// Stop does nothing; the processes started by the script are killed from
// the first host together with the other auxiliary daemons.
func (r *ScriptRuntime) Stop(ctx context.Context) error {
	return nil
}
