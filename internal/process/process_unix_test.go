//go:build !windows

package process

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// running reports whether pid is a live, non-zombie process.
func running(pid int) bool {
	out, err := exec.Command("ps", "-o", "stat=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	stat := strings.TrimSpace(string(out))
	return stat != "" && !strings.HasPrefix(stat, "Z")
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	lines := make(chan string, 1)
	go func() {
		line, _ := r.ReadString('\n')
		lines <- strings.TrimSpace(line)
	}()
	select {
	case line := <-lines:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading from process")
		return ""
	}
}

func TestLaunch_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	h, err := Launch(Config{
		Command: "sh",
		Args:    []string{"-c", `echo "$CODEX_BRIDGE_TEST"; pwd`},
		Env:     map[string]string{"CODEX_BRIDGE_TEST": "hello"},
		Dir:     dir,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()

	r := bufio.NewReader(h.Stdout())
	assert.Equal(t, "hello", readLine(t, r))

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(readLine(t, r))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.True(t, h.WaitTimeout(5*time.Second))
	assert.True(t, h.Exited())
	assert.NoError(t, h.ExitErr())
}

func TestLaunch_NewSession(t *testing.T) {
	h, err := Launch(Config{Command: "sleep", Args: []string{"30"}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()
	defer NewSupervisor(nil, zaptest.NewLogger(t)).Terminate(h)

	sid, err := unix.Getsid(h.Pid())
	require.NoError(t, err)
	assert.Equal(t, h.Pid(), sid)
	assert.NotEqual(t, unix.Getpgrp(), h.Pid())
}

func TestLaunch_Errors(t *testing.T) {
	_, err := Launch(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoCommand)

	_, err = Launch(Config{Command: filepath.Join(t.TempDir(), "missing-binary")}, nil)
	assert.Error(t, err)
}

func TestStdinRoundTrip(t *testing.T) {
	h, err := Launch(Config{Command: "cat"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Stdin().Write([]byte("ping\n"))
	require.NoError(t, err)
	assert.Equal(t, "ping", readLine(t, bufio.NewReader(h.Stdout())))

	// Closing stdin lets cat exit on its own.
	require.NoError(t, h.stdin.Close())
	assert.True(t, h.WaitTimeout(5*time.Second))
}

func TestTerminate_ReclaimsProcessTree(t *testing.T) {
	script := `sleep 60 & sh -c 'sleep 60 & wait' & echo ready; wait`
	h, err := Launch(Config{Command: "sh", Args: []string{"-c", script}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, "ready", readLine(t, bufio.NewReader(h.Stdout())))

	table := NewSystemTable()
	var descendants []int
	require.Eventually(t, func() bool {
		descendants, err = table.Descendants(h.Pid())
		return err == nil && len(descendants) >= 3
	}, 5*time.Second, 20*time.Millisecond, "expected sleep, nested sh and its sleep")

	s := NewSupervisor(table, zaptest.NewLogger(t))
	s.GracePeriod = 500 * time.Millisecond
	s.Terminate(h)

	assert.True(t, h.Exited())
	for _, pid := range descendants {
		assert.Eventually(t, func() bool { return !running(pid) }, 5*time.Second, 20*time.Millisecond,
			"descendant %d survived", pid)
	}

	// A second call on the reclaimed tree is harmless.
	assert.NotPanics(t, func() { s.Terminate(h) })
}

func TestTerminate_IgnoresSigterm(t *testing.T) {
	h, err := Launch(Config{
		Command: "sh",
		Args:    []string{"-c", `trap '' TERM; echo ready; while :; do sleep 1; done`},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()
	require.Equal(t, "ready", readLine(t, bufio.NewReader(h.Stdout())))

	s := NewSupervisor(nil, zaptest.NewLogger(t))
	s.GracePeriod = 200 * time.Millisecond
	s.Terminate(h)

	assert.True(t, h.Exited())
}

func TestKillGroup_RefusesHostGroup(t *testing.T) {
	gk := NewSystemTable().(GroupKiller)
	assert.NoError(t, gk.KillGroup(unix.Getpgrp()))
	assert.NoError(t, gk.KillGroup(1))
	assert.NoError(t, gk.KillGroup(0))
	// Still here.
	assert.True(t, running(os.Getpid()))
}
