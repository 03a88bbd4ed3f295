// Package proc looks up OS processes and their ancestry with ps and pgrep.
package proc

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/airbnb/appear/internal/memo"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/otel"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
)

// MaxTreeDepth bounds an ancestry walk. Real process trees are a few dozen
// entries deep at most.
const MaxTreeDepth = 512

var (
	// ErrDeadProcess is returned for a PID that is not running.
	ErrDeadProcess = errors.New("process is not running")
	// ErrProcessCycle is returned when walking parents revisits a PID.
	ErrProcessCycle = errors.New("process ancestry contains a cycle")
	// ErrTreeTooDeep is returned when an ancestry exceeds MaxTreeDepth.
	ErrTreeTooDeep = errors.New("process ancestry too deep")
	// ErrBadPsOutput is returned when ps prints something unparseable.
	ErrBadPsOutput = errors.New("unexpected ps output")
)

// Alive reports whether pid exists. A process we may not signal still
// counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := unix.Getpgid(pid)
	return err == nil || !errors.Is(err, unix.ESRCH)
}

// Resolver answers process questions, caching per-PID lookups.
type Resolver struct {
	runner runner.Runner
	log    output.Logger
	info   *memo.Memo[int, model.ProcessInfo]

	// Probe checks liveness before ps is consulted. Defaults to Alive.
	Probe func(pid int) bool
}

// NewResolver creates a Resolver. metrics may be nil.
func NewResolver(r runner.Runner, log output.Logger, metrics *otel.Metrics) *Resolver {
	return &Resolver{
		runner: r,
		log:    log,
		info:   memo.New[int, model.ProcessInfo](memo.WithName("ps"), memo.WithMetrics(metrics)),
		Probe:  Alive,
	}
}

// DisableCache makes every lookup run ps afresh.
func (r *Resolver) DisableCache() { r.info.Disable() }

// Cached reports how many PIDs have a cached lookup.
func (r *Resolver) Cached() int { return r.info.Len() }

// Alive reports whether pid is running.
func (r *Resolver) Alive(pid int) bool {
	return r.Probe(pid)
}

// GetInfo returns the process with the given PID.
func (r *Resolver) GetInfo(ctx context.Context, pid int) (model.ProcessInfo, error) {
	return r.info.Call(ctx, pid, func() (model.ProcessInfo, error) {
		return r.fetchInfo(ctx, pid)
	})
}

func (r *Resolver) fetchInfo(ctx context.Context, pid int) (model.ProcessInfo, error) {
	if !r.Probe(pid) {
		return model.ProcessInfo{}, errors.Wrapf(ErrDeadProcess, "pid %d", pid)
	}
	out, err := r.runner.Run(ctx, []string{"ps", "-p", strconv.Itoa(pid), "-o", "ppid=", "-o", "command="})
	if err != nil {
		return model.ProcessInfo{}, err
	}
	return parsePs(pid, out)
}

func parsePs(pid int, out string) (model.ProcessInfo, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return model.ProcessInfo{}, errors.Wrapf(ErrBadPsOutput, "pid %d: %q", pid, out)
	}
	ppid, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.ProcessInfo{}, errors.Wrapf(ErrBadPsOutput, "pid %d: parent %q", pid, fields[0])
	}
	return model.NewProcessInfo(pid, ppid, fields[1:]), nil
}

// ProcessTree returns pid followed by each of its ancestors, ending at
// PID 1 or at a process whose parent is 0.
func (r *Resolver) ProcessTree(ctx context.Context, pid int) (model.ProcessTree, error) {
	info, err := r.GetInfo(ctx, pid)
	if err != nil {
		return nil, err
	}
	tree := model.ProcessTree{info}
	seen := map[int]bool{info.PID: true}

	for {
		last := tree[len(tree)-1]
		if last.PID <= 1 || last.ParentPID == 0 {
			return tree, nil
		}
		if seen[last.ParentPID] {
			return nil, errors.Wrapf(ErrProcessCycle, "pid %d revisits %d", pid, last.ParentPID)
		}
		if len(tree) >= MaxTreeDepth {
			return nil, errors.Wrapf(ErrTreeTooDeep, "pid %d", pid)
		}
		parent, err := r.GetInfo(ctx, last.ParentPID)
		if err != nil {
			return nil, errors.Wrapf(err, "parent of %d", last.PID)
		}
		seen[parent.PID] = true
		tree = append(tree, parent)
	}
}

// Pgrep returns the PIDs whose command line matches pattern. Having no
// match, or pgrep failing outright, is an empty result.
func (r *Resolver) Pgrep(ctx context.Context, pattern string) []int {
	out, err := r.runner.Run(ctx, []string{"pgrep", "-lf", pattern})
	if err != nil {
		r.log.Log("pgrep found nothing", "pattern", pattern, "err", err.Error())
		return nil
	}
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
