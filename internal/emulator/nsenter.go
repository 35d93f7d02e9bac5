package emulator

import (
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/moby/sys/reexec"
	"golang.org/x/sys/unix"
)

func init() {
	reexec.Register(NsenterCommand, nsenter)
}

// nsenter runs in the re-executed child: it joins the namespace named on
// the command line and replaces itself with a shell.
func nsenter() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "nsenter: missing namespace path or host name")
		os.Exit(1)
	}
	nsPath, host := os.Args[1], os.Args[2]

	runtime.LockOSThread()

	nsFd, err := os.Open(nsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsenter: open namespace: %v\n", err)
		os.Exit(1)
	}
	defer nsFd.Close()

	if err := unix.Setns(int(nsFd.Fd()), unix.CLONE_NEWNET); err != nil {
		fmt.Fprintf(os.Stderr, "nsenter: enter namespace: %v\n", err)
		os.Exit(1)
	}

	os.Setenv("PS1", fmt.Sprintf("dotcap@%s:\\w $ ", host))
	if err := syscall.Exec("/bin/bash", []string{"bash", "--noprofile", "--norc"}, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "nsenter: exec shell: %v\n", err)
		os.Exit(1)
	}
}
