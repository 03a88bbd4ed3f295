package reveal

import (
	"context"
	stderrors "errors"

	"github.com/airbnb/appear/internal/macos"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/terminal"
)

// TTYJoiner correlates process trees with panes through their terminals.
// *lsof.Resolver implements it.
type TTYJoiner interface {
	JoinViaTTY(ctx context.Context, tree model.ProcessTree, panes []model.Pane) []model.PaneConnection
}

// GUIRevealer focuses native terminal windows.
type GUIRevealer struct {
	term terminal.Terminal
	lsof TTYJoiner
	log  output.Logger

	// servers names terminal apps whose own processes must never count as
	// a hit.
	servers map[string]bool
}

// NewGUIRevealer creates a revealer for term. servers are the app names of
// every known terminal.
func NewGUIRevealer(term terminal.Terminal, lsof TTYJoiner, log output.Logger, servers ...string) *GUIRevealer {
	s := map[string]bool{term.AppName(): true}
	for _, name := range servers {
		s[name] = true
	}
	return &GUIRevealer{term: term, lsof: lsof, log: log, servers: s}
}

func (g *GUIRevealer) Name() string { return g.term.AppName() }

// SupportsTree reports whether the terminal app itself is an ancestor.
func (g *GUIRevealer) SupportsTree(_ model.ProcessInfo, rest model.ProcessTree) bool {
	for _, p := range rest {
		if p.Name == g.term.AppName() && macos.HasGUI(p) {
			return true
		}
	}
	return false
}

// RevealTree focuses each terminal pane a process of tree is attached to.
func (g *GUIRevealer) RevealTree(ctx context.Context, tree model.ProcessTree) (bool, error) {
	panes, err := g.term.Panes(ctx)
	if err != nil {
		return false, err
	}
	generic := make([]model.Pane, len(panes))
	for i, p := range panes {
		generic[i] = p
	}

	seen := make(map[string]bool)
	revealed := false
	var errs []error
	for _, hit := range g.lsof.JoinViaTTY(ctx, tree, generic) {
		// A server holding the tty must not hide a later hit on it.
		if g.isServer(hit.Process) {
			g.log.Log("skipping terminal server process", "revealer", g.Name(), "pid", hit.PID(), "name", hit.Process.Name)
			continue
		}
		if seen[hit.TTY()] {
			continue
		}
		seen[hit.TTY()] = true

		g.log.Log("revealing pane", "revealer", g.Name(), "tty", hit.TTY(), "pid", hit.PID())
		if err := g.term.RevealPane(ctx, hit.Pane); err != nil {
			errs = append(errs, err)
			continue
		}
		revealed = true
	}
	return revealed, stderrors.Join(errs...)
}

func (g *GUIRevealer) isServer(p model.ProcessInfo) bool {
	return macos.HasGUI(p) || g.servers[p.Name]
}
