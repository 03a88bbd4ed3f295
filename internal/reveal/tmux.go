package reveal

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"

	"github.com/airbnb/appear/internal/join"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/mux"
	"github.com/airbnb/appear/internal/output"
)

// Connections lists the processes holding files open.
// *lsof.Resolver implements it.
type Connections interface {
	Lsofs(ctx context.Context, paths []string, pids []int) map[string][]model.Connection
}

// Pgreper finds processes by command line. *proc.Resolver implements it.
type Pgreper interface {
	Pgrep(ctx context.Context, pattern string) []int
}

// MuxRevealer focuses multiplexer panes, then reveals the client attached to
// the pane's session so the terminal showing it comes to the front too.
type MuxRevealer struct {
	mux    mux.Multiplexer
	lsof   Connections
	procs  Pgreper
	reveal RevealFunc
	log    output.Logger
}

// NewMuxRevealer creates a revealer for m. reveal is called with the PID
// of the client attached to the revealed session.
func NewMuxRevealer(m mux.Multiplexer, lsof Connections, procs Pgreper, reveal RevealFunc, log output.Logger) *MuxRevealer {
	return &MuxRevealer{mux: m, lsof: lsof, procs: procs, reveal: reveal, log: log}
}

func (t *MuxRevealer) Name() string { return t.mux.Name() }

// SupportsTree reports whether the multiplexer server is an ancestor.
func (t *MuxRevealer) SupportsTree(_ model.ProcessInfo, rest model.ProcessTree) bool {
	_, ok := rest.Find(t.mux.Name())
	return ok
}

// RevealTree selects every pane running a process of tree. It reports true
// if any pane was selected, whether or not the client was found. A pane
// that fails to select does not stop the others or the client reveal; the
// failures are joined into the error.
func (t *MuxRevealer) RevealTree(ctx context.Context, tree model.ProcessTree) (bool, error) {
	panes, err := t.mux.Panes(ctx)
	if err != nil {
		return false, err
	}

	rows, err := join.Join("pid", join.Table([]model.ProcessInfo(tree)), join.Table(panes))
	if err != nil {
		return false, err
	}
	revealed := 0
	var errs []error
	for _, row := range rows {
		pane, ok := join.First[mux.Pane](row)
		if !ok {
			continue
		}
		t.log.Log("revealing pane", "revealer", t.Name(), "target", pane.Target(), "pid", pane.PID)
		if err := t.mux.RevealPane(ctx, pane); err != nil {
			errs = append(errs, err)
			continue
		}
		revealed++
	}

	pid, ok, err := t.clientFor(ctx, tree, panes)
	switch {
	case err != nil:
		t.log.LogError(errors.Wrap(err, "find multiplexer client"))
	case ok:
		if _, err := t.reveal(ctx, pid); err != nil {
			t.log.LogError(errors.Wrapf(err, "reveal multiplexer client %d", pid))
		}
	default:
		t.log.Log("no attached client shows the tree", "revealer", t.Name())
	}

	return revealed > 0, stderrors.Join(errs...)
}

// clientFor finds the PID of a client attached to a session holding a
// process of tree.
//
// The multiplexer does not report client PIDs, only client TTYs. The client
// is the process on that TTY that runs the multiplexer binary but is not the
// server itself.
func (t *MuxRevealer) clientFor(ctx context.Context, tree model.ProcessTree, panes []mux.Pane) (int, bool, error) {
	server, ok := tree.Find(t.mux.Name())
	if !ok {
		return 0, false, nil
	}

	procAndPanes, err := join.Join("pid", join.Table(panes), join.Table([]model.ProcessInfo(tree)))
	if err != nil {
		return 0, false, err
	}
	clients, err := t.mux.Clients(ctx)
	if err != nil {
		return 0, false, err
	}
	procAndClients, err := join.Join("session", join.Table(clients), join.Table(procAndPanes))
	if err != nil {
		return 0, false, err
	}

	// Several clients can share a session; any one of them will do, and
	// the last one listed is the one taken.
	candidates := join.All[mux.Client](procAndClients)
	if len(candidates) == 0 {
		return 0, false, nil
	}
	client := candidates[len(candidates)-1]
	if len(candidates) > 1 {
		t.log.Log("several clients attached, picking the last", "tty", client.TTY(), "count", len(candidates))
	}

	tty := client.TTY()
	conns := t.lsof.Lsofs(ctx, []string{tty}, t.procs.Pgrep(ctx, t.mux.Name()))[tty]
	for _, conn := range conns {
		if strings.HasPrefix(conn.CommandName, t.mux.Name()) && conn.PID != server.PID {
			return conn.PID, true, nil
		}
	}
	return 0, false, nil
}
