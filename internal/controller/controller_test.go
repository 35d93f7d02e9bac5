package controller

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotcap/internal/topology"
)

type fakeDockerClient struct {
	started  []string
	stopped  []string
	running  map[string]bool
	stopErr  map[string]error
	timeouts []int
	closed   bool
}

func (f *fakeDockerClient) NegotiateAPIVersion(ctx context.Context) {}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDockerClient) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	if opts.Timeout != nil {
		f.timeouts = append(f.timeouts, *opts.Timeout)
	}
	return f.stopErr[id]
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{Running: f.running[id]},
		},
	}, nil
}

func (f *fakeDockerClient) Close() error {
	f.closed = true
	return nil
}

func newTestDockerRuntime(client *fakeDockerClient, containers ...string) *DockerRuntime {
	r := NewDockerRuntime(Options{
		Containers:  containers,
		StopTimeout: 5 * time.Second,
		Logger:      slog.New(slog.DiscardHandler),
	})
	r.newDockerClient = func() (dockerClient, error) { return client, nil }
	return r
}

func TestDockerRuntime(t *testing.T) {
	client := &fakeDockerClient{
		running: map[string]bool{"faucet": true, "capflow": true},
		stopErr: map[string]error{"capflow": errors.New("no such container")},
	}
	r := newTestDockerRuntime(client, "faucet", "capflow")
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, []string{"faucet", "capflow"}, client.started)

	err := r.Stop(ctx)
	assert.ErrorContains(t, err, "stop container capflow")
	assert.Equal(t, []string{"capflow", "faucet"}, client.stopped)
	assert.Equal(t, []int{5, 5}, client.timeouts)
	assert.True(t, client.closed)

	// Stopping again is a no-op once the client is released.
	assert.NoError(t, r.Stop(ctx))
}

func TestDockerRuntimeNotRunning(t *testing.T) {
	client := &fakeDockerClient{running: map[string]bool{}}
	r := newTestDockerRuntime(client, "faucet")

	err := r.Start(context.Background())
	assert.ErrorContains(t, err, "container faucet is not running")
}

func TestScriptRuntime(t *testing.T) {
	r := NewScriptRuntime(Options{WorkDir: "/work", Logger: slog.New(slog.DiscardHandler)})

	var gotDir, gotCmd string
	r.run = func(ctx context.Context, dir, command string) ([]byte, error) {
		gotDir, gotCmd = dir, command
		return []byte("controllers started\n"), nil
	}
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, "/work", gotDir)
	assert.Equal(t, DefaultLaunchScript, gotCmd)

	r.run = func(ctx context.Context, dir, command string) ([]byte, error) {
		return nil, errors.New("exit status 127")
	}
	assert.ErrorContains(t, r.Start(context.Background()), "run ./run_controller.sh")
	assert.NoError(t, r.Stop(context.Background()))
}

func TestScriptRuntimeLeavesControllersRunning(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 8 &\necho controllers started\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_controller.sh"), []byte(script), 0755))

	r := NewScriptRuntime(Options{WorkDir: dir, Logger: slog.New(slog.DiscardHandler)})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.Start(ctx))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunShell(t *testing.T) {
	out, err := runShell(context.Background(), t.TempDir(), "pwd >/dev/null; echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(out))

	_, err = runShell(context.Background(), t.TempDir(), "./missing.sh")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	rt, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &ScriptRuntime{}, rt)

	_, err = New(Options{Kind: KindDocker})
	assert.Error(t, err)

	rt, err = New(Options{Kind: KindDocker, Containers: []string{"faucet"}})
	require.NoError(t, err)
	assert.IsType(t, &DockerRuntime{}, rt)

	_, err = New(Options{Kind: "systemd"})
	assert.Error(t, err)
}

func TestCheckListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := topology.Controller{Name: "c0", IP: "127.0.0.1", Port: port}
	assert.NoError(t, CheckListening(ctx, c, 10*time.Millisecond))
}

func TestCheckListeningTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := topology.Controller{Name: "c0", IP: "127.0.0.1", Port: port}
	assert.ErrorContains(t, CheckListening(ctx, c, 10*time.Millisecond), "not listening")
}

func TestCheckListeningSkipsInband(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := topology.Controller{Name: "c1", IP: "10.0.10.2", Port: 6633, AssumesListening: true}
	assert.NoError(t, CheckListening(ctx, c, time.Second))
}
