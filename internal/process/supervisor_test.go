package process

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// actionLog records signals in the order they were issued across the table
// and the target.
type actionLog struct {
	mu      sync.Mutex
	actions []string
}

func (l *actionLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, fmt.Sprintf(format, args...))
}

func (l *actionLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.actions...)
}

func (l *actionLog) index(action string) int {
	for i, a := range l.list() {
		if a == action {
			return i
		}
	}
	return -1
}

type fakeTable struct {
	log     *actionLog
	entries []ProcEntry
	// snapshots, when set, replaces entries on successive Descendants calls.
	snapshots [][]ProcEntry
	calls     int
	snapErr   error
	killErr   error
}

func (f *fakeTable) Descendants(pid int) ([]int, error) {
	f.calls++
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	entries := f.entries
	if len(f.snapshots) > 0 {
		i := min(f.calls-1, len(f.snapshots)-1)
		entries = f.snapshots[i]
	}
	return DescendantsOf(entries, pid), nil
}

func (f *fakeTable) Kill(pid int) error {
	f.log.add("kill:%d", pid)
	return f.killErr
}

type groupTable struct {
	*fakeTable
}

func (g groupTable) KillGroup(pgid int) error {
	g.log.add("killgroup:%d", pgid)
	return errors.New("no such process group")
}

type fakeTarget struct {
	log            *actionLog
	pid            int
	exited         bool
	ignoreTerm     bool
	ignoreKill     bool
	interruptCalls int
	killCalls      int
}

func (f *fakeTarget) Pid() int     { return f.pid }
func (f *fakeTarget) Exited() bool { return f.exited }
func (f *fakeTarget) Interrupt() error {
	f.interruptCalls++
	f.log.add("term:%d", f.pid)
	if !f.ignoreTerm {
		f.exited = true
	}
	return nil
}
func (f *fakeTarget) Kill() error {
	f.killCalls++
	f.log.add("kill:%d", f.pid)
	if !f.ignoreKill {
		f.exited = true
	}
	return nil
}
func (f *fakeTarget) WaitTimeout(time.Duration) bool { return f.exited }

func chainTree() []ProcEntry {
	// 100 -> 200 -> 300, plus an unrelated process 900 under init.
	return []ProcEntry{
		{PID: 100, PPID: 1},
		{PID: 200, PPID: 100},
		{PID: 300, PPID: 200},
		{PID: 900, PPID: 1},
	}
}

func newTestSupervisor(t *testing.T, table ProcessTable) *Supervisor {
	s := NewSupervisor(table, zaptest.NewLogger(t))
	s.GracePeriod = 10 * time.Millisecond
	return s
}

func TestTerminate_DescendantsBeforeRoot(t *testing.T) {
	log := &actionLog{}
	table := &fakeTable{log: log, entries: chainTree()}
	target := &fakeTarget{log: log, pid: 100}

	newTestSupervisor(t, table).Terminate(target)

	root := log.index("term:100")
	require.GreaterOrEqual(t, root, 0, "root was never signalled: %v", log.list())
	assert.GreaterOrEqual(t, log.index("kill:200"), 0)
	assert.GreaterOrEqual(t, log.index("kill:300"), 0)
	assert.Less(t, log.index("kill:200"), root)
	assert.Less(t, log.index("kill:300"), root)
	assert.Less(t, log.index("kill:300"), log.index("kill:200"), "deepest descendant first")
	assert.Equal(t, -1, log.index("kill:900"))
	assert.Equal(t, 0, target.killCalls)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	log := &actionLog{}
	table := &fakeTable{log: log, entries: chainTree()}
	target := &fakeTarget{log: log, pid: 100, ignoreTerm: true}

	newTestSupervisor(t, table).Terminate(target)

	assert.Equal(t, 1, target.interruptCalls)
	assert.Equal(t, 1, target.killCalls)
	assert.Less(t, log.index("term:100"), log.index("kill:100"))
}

func TestTerminate_AlreadyExited(t *testing.T) {
	log := &actionLog{}
	table := &fakeTable{log: log, entries: []ProcEntry{{PID: 5, PPID: 0}}}
	target := &fakeTarget{log: log, pid: 5, exited: true}

	s := newTestSupervisor(t, table)
	s.Terminate(target)
	s.Terminate(target)

	assert.Equal(t, 0, target.interruptCalls)
	assert.Equal(t, 0, target.killCalls)
	assert.Empty(t, log.list())
	assert.Equal(t, 0, table.calls)
}

func TestTerminate_ExitedRootOnlySweepsGroup(t *testing.T) {
	log := &actionLog{}
	// 100 has exited and its pid now parents an unrelated process.
	table := groupTable{&fakeTable{log: log, entries: []ProcEntry{{PID: 100, PPID: 1}, {PID: 700, PPID: 100}}}}
	target := &fakeTarget{log: log, pid: 100, exited: true}

	newTestSupervisor(t, table).Terminate(target)

	assert.Equal(t, []string{"killgroup:100"}, log.list())
	assert.Equal(t, 0, table.calls)
}

func TestTerminate_SecondPassCatchesStragglers(t *testing.T) {
	log := &actionLog{}
	before := chainTree()
	// Process 400 was forked by 200 between the first snapshot and its kill.
	after := append(chainTree(), ProcEntry{PID: 400, PPID: 200})
	table := &fakeTable{log: log, snapshots: [][]ProcEntry{before, after}}
	// The root survives even SIGKILL, so its tree is walked again.
	target := &fakeTarget{log: log, pid: 100, ignoreTerm: true, ignoreKill: true}

	newTestSupervisor(t, table).Terminate(target)

	assert.Equal(t, 2, table.calls)
	assert.Greater(t, log.index("kill:400"), log.index("term:100"))
}

func TestTerminate_ReapedRootIsNotWalkedAgain(t *testing.T) {
	log := &actionLog{}
	// After the root is reaped its pid is recycled by an unrelated parent.
	recycled := []ProcEntry{{PID: 100, PPID: 1}, {PID: 800, PPID: 100}}
	table := groupTable{&fakeTable{log: log, snapshots: [][]ProcEntry{chainTree(), recycled}}}
	target := &fakeTarget{log: log, pid: 100}

	newTestSupervisor(t, table).Terminate(target)

	assert.Equal(t, 1, table.calls)
	assert.Equal(t, -1, log.index("kill:800"))
	assert.GreaterOrEqual(t, log.index("killgroup:100"), 0)
}

func TestTerminate_PassCountIsTunable(t *testing.T) {
	log := &actionLog{}
	table := groupTable{&fakeTable{log: log, entries: chainTree()}}
	s := newTestSupervisor(t, table)
	s.Passes = 4

	s.Terminate(&fakeTarget{log: log, pid: 100})

	groupKills := 0
	for _, a := range log.list() {
		if a == "killgroup:100" {
			groupKills++
		}
	}
	assert.Equal(t, 3, groupKills)
}

func TestTerminate_GroupKillAfterRoot(t *testing.T) {
	log := &actionLog{}
	table := groupTable{&fakeTable{log: log, entries: chainTree()}}
	target := &fakeTarget{log: log, pid: 100}

	newTestSupervisor(t, table).Terminate(target)

	group := log.index("killgroup:100")
	require.GreaterOrEqual(t, group, 0)
	assert.Greater(t, group, log.index("term:100"))
}

func TestTerminate_SwallowsErrors(t *testing.T) {
	log := &actionLog{}

	table := &fakeTable{log: log, snapErr: errors.New("ps not found")}
	target := &fakeTarget{log: log, pid: 100}
	assert.NotPanics(t, func() { newTestSupervisor(t, table).Terminate(target) })
	assert.True(t, target.exited)

	table = &fakeTable{log: log, entries: chainTree(), killErr: errors.New("operation not permitted")}
	target = &fakeTarget{log: log, pid: 100}
	assert.NotPanics(t, func() { newTestSupervisor(t, table).Terminate(target) })
	assert.True(t, target.exited)
}

func TestTerminate_IgnoresInvalidPid(t *testing.T) {
	log := &actionLog{}
	table := &fakeTable{log: log, entries: chainTree()}

	newTestSupervisor(t, table).Terminate(&fakeTarget{log: log, pid: 0})
	newTestSupervisor(t, table).Terminate(&fakeTarget{log: log, pid: 1})

	// pid 1 is treated as init and never touched.
	assert.Empty(t, log.list())
	assert.Equal(t, 0, table.calls)
}
