package process

import (
	"slices"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultGracePeriod = 2 * time.Second
	// DefaultPasses is the number of snapshot-and-kill rounds per termination.
	// More rounds narrow the window for stragglers but never close it.
	DefaultPasses = 2
)

// ProcessTable is the platform capability the termination algorithm needs.
type ProcessTable interface {
	// Descendants returns every live transitive descendant of pid, taken from
	// a single snapshot, parents before children.
	Descendants(pid int) ([]int, error)
	// Kill forcefully terminates pid.
	Kill(pid int) error
}

// GroupKiller is implemented by tables that can signal a whole process group.
type GroupKiller interface {
	KillGroup(pgid int) error
}

// Target is the root process being terminated.
type Target interface {
	Pid() int
	Exited() bool
	Interrupt() error
	Kill() error
	WaitTimeout(d time.Duration) bool
}

// Supervisor terminates agent process trees.
type Supervisor struct {
	table  ProcessTable
	logger *zap.Logger

	GracePeriod time.Duration
	Passes      int
}

// NewSupervisor returns a Supervisor using table. A nil table means the
// platform's live process table.
func NewSupervisor(table ProcessTable, logger *zap.Logger) *Supervisor {
	if table == nil {
		table = NewSystemTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		table:       table,
		logger:      logger,
		GracePeriod: DefaultGracePeriod,
		Passes:      DefaultPasses,
	}
}

// Launch starts an agent process.
func (s *Supervisor) Launch(config Config) (*Handle, error) {
	return Launch(config, s.logger)
}

// Terminate stops the target and every descendant it has. Descendants are
// collected before anything is killed, because once the root dies they are
// reparented and can no longer be found from it. It never fails; signal
// errors are only logged. Once the root has exited its pid may already
// belong to another process, so from then on only the process group is
// swept. Calling it on an exited target is safe.
func (s *Supervisor) Terminate(t Target) {
	pid := t.Pid()
	if pid <= 1 {
		return
	}
	logger := s.logger.With(zap.Int("pid", pid))
	logger.Debug("terminating process tree")

	walk := !t.Exited()
	if walk {
		s.killDescendants(logger, pid)
	}

	if !t.Exited() {
		if err := t.Interrupt(); err != nil {
			logger.Debug("interrupt failed", zap.Error(err))
		}
		if !t.WaitTimeout(s.gracePeriod()) {
			logger.Warn("agent did not exit in time, killing")
			if err := t.Kill(); err != nil {
				logger.Debug("kill failed", zap.Error(err))
			}
			t.WaitTimeout(s.gracePeriod())
		}
	}
	walk = walk && !t.Exited()

	for pass := 1; pass < s.passes(); pass++ {
		if walk {
			s.killDescendants(logger, pid)
		}
		if gk, ok := s.table.(GroupKiller); ok {
			// A pid is not reused while its process group has members.
			if err := gk.KillGroup(pid); err != nil {
				logger.Debug("group kill failed", zap.Error(err))
			}
		}
	}
}

func (s *Supervisor) killDescendants(logger *zap.Logger, pid int) {
	descendants, err := s.table.Descendants(pid)
	if err != nil {
		logger.Debug("process snapshot failed", zap.Error(err))
		return
	}
	// Deepest first.
	for _, child := range slices.Backward(descendants) {
		if err := s.table.Kill(child); err != nil {
			logger.Debug("kill descendant failed", zap.Int("child", child), zap.Error(err))
			continue
		}
		logger.Debug("killed descendant", zap.Int("child", child))
	}
}

func (s *Supervisor) gracePeriod() time.Duration {
	if s.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return s.GracePeriod
}

func (s *Supervisor) passes() int {
	if s.Passes < 1 {
		return DefaultPasses
	}
	return s.Passes
}
