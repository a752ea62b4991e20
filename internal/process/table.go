package process

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// ProcEntry is one row of a process table snapshot.
type ProcEntry struct {
	PID  int
	PPID int
}

// DescendantsOf walks a snapshot breadth-first from root and returns every
// transitive descendant, parents before children. root itself is excluded.
func DescendantsOf(entries []ProcEntry, root int) []int {
	children := make(map[int][]int, len(entries))
	for _, e := range entries {
		if e.PID == e.PPID {
			continue
		}
		children[e.PPID] = append(children[e.PPID], e.PID)
	}

	var result []int
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}

// parsePSOutput parses `ps -A -o pid= -o ppid=` output. Lines that are not
// two integers are skipped.
func parsePSOutput(out []byte) []ProcEntry {
	var entries []ProcEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		entries = append(entries, ProcEntry{PID: pid, PPID: ppid})
	}
	return entries
}

// snapshotTable adapts a snapshot function and a kill function to
// ProcessTable.
type snapshotTable struct {
	snapshot func() ([]ProcEntry, error)
	kill     func(pid int) error
}

func (t snapshotTable) Descendants(pid int) ([]int, error) {
	entries, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	return DescendantsOf(entries, pid), nil
}

func (t snapshotTable) Kill(pid int) error {
	return t.kill(pid)
}
