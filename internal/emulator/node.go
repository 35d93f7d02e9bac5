package emulator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/moby/sys/reexec"

	"dotcap/internal/shell"
	"dotcap/internal/topology"
)

// NsenterCommand is the hidden argument the binary re-executes itself with
// to open a shell inside a host namespace.
const NsenterCommand = "__dotcap_nsenter__"

// Node is a live emulated host: a namespace plus the host's declaration.
type Node struct {
	Host topology.Host
	NS   *Namespace

	// privateDirs maps a mount point to its per-host backing directory.
	privateDirs map[string]string
	workDir     string
}

func newNode(h topology.Host, ns *Namespace, privateRoot, workDir string) *Node {
	n := &Node{
		Host:        h,
		NS:          ns,
		privateDirs: map[string]string{},
		workDir:     workDir,
	}
	for _, dir := range h.PrivateDirs {
		n.privateDirs[dir] = filepath.Join(privateRoot, h.Name, strings.ReplaceAll(strings.Trim(dir, "/"), "/", "_"))
	}
	return n
}

// preparePrivateDirs creates the backing directories for private mounts.
func (n *Node) preparePrivateDirs() error {
	for _, backing := range n.privateDirs {
		if err := os.MkdirAll(backing, 0700); err != nil {
			return fmt.Errorf("create private dir %s: %w", backing, err)
		}
	}
	return nil
}

// script wraps command so private directories are bind-mounted first.
// The mounts live in a mount namespace private to the command.
func (n *Node) script(command string) string {
	if len(n.privateDirs) == 0 {
		return command
	}

	mounts := make([]string, 0, len(n.privateDirs))
	for dir := range n.privateDirs {
		mounts = append(mounts, dir)
	}
	sort.Strings(mounts)

	var b strings.Builder
	for _, dir := range mounts {
		fmt.Fprintf(&b, "mkdir -p %s && mount --bind %s %s && ",
			shellQuote(dir), shellQuote(n.privateDirs[dir]), shellQuote(dir))
	}
	b.WriteString("{ ")
	b.WriteString(command)
	b.WriteString("\n}")
	return b.String()
}

// Exec runs a shell command inside the host and returns its combined
// output. A non-zero exit status is returned as an error together with
// the output. It returns once the shell exits, even if the command left
// daemons running.
func (n *Node) Exec(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", n.script(command))
	cmd.Dir = n.workDir
	if len(n.privateDirs) > 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{Unshareflags: syscall.CLONE_NEWNS}
	}

	// The child inherits the namespace of the thread that forks it.
	return shell.Run(ctx, cmd, func() error {
		if err := n.NS.Do(cmd.Start); err != nil {
			return fmt.Errorf("start command on %s: %w", n.Host.Name, err)
		}
		return nil
	})
}

// AttachShell opens an interactive shell inside the host by re-executing
// the current binary with NsenterCommand.
func (n *Node) AttachShell() error {
	cmd := reexec.Command(NsenterCommand, n.NS.Path, n.Host.Name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	return cmd.Run()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
