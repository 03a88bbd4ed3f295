// Package lsof finds which processes hold a terminal device open.
package lsof

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/airbnb/appear/internal/memo"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/otel"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
)

var tracer = otel.Tracer("lsof")

// minFields is the number of columns in an lsof row.
const minFields = 9

// ParseError reports an lsof row that could not be turned into a
// Connection.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lsof: %s in line %q", e.Reason, e.Line)
}

type query struct {
	path string
	pids string
}

// Resolver runs lsof, caching results per path and PID filter.
type Resolver struct {
	runner runner.Runner
	log    output.Logger
	cache  *memo.Memo[query, []model.Connection]
}

// NewResolver creates a Resolver. metrics may be nil.
func NewResolver(r runner.Runner, log output.Logger, metrics *otel.Metrics) *Resolver {
	return &Resolver{
		runner: r,
		log:    log,
		cache:  memo.New[query, []model.Connection](memo.WithName("lsof"), memo.WithMetrics(metrics)),
	}
}

// DisableCache makes every lookup run lsof afresh.
func (r *Resolver) DisableCache() { r.cache.Disable() }

// Cached reports how many lookups are cached.
func (r *Resolver) Cached() int { return r.cache.Len() }

// Lsofs looks up the connections to every path concurrently. The result has
// one entry per distinct path. A path whose lookup fails maps to an empty
// slice; failures are logged, never returned. A non-empty pids restricts
// the lookup to those processes.
func (r *Resolver) Lsofs(ctx context.Context, paths []string, pids []int) map[string][]model.Connection {
	ctx, span := tracer.Start(ctx, "lsofs")
	defer span.End()
	span.SetAttributes(attribute.Int("lsof.paths", len(paths)), attribute.Int("lsof.pids", len(pids)))

	filter := pidFilter(pids)
	results := make(map[string][]model.Connection, len(paths))
	var mu sync.Mutex

	var g errgroup.Group
	for _, path := range paths {
		mu.Lock()
		_, dup := results[path]
		results[path] = []model.Connection{}
		mu.Unlock()
		if dup {
			continue
		}

		g.Go(func() error {
			conns, err := r.lsof(ctx, path, filter)
			if err != nil {
				r.log.Log("lsof failed", "path", path, "err", err.Error())
				return nil
			}
			mu.Lock()
			results[path] = conns
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Resolver) lsof(ctx context.Context, path, filter string) ([]model.Connection, error) {
	return r.cache.Call(ctx, query{path: path, pids: filter}, func() ([]model.Connection, error) {
		argv := []string{"lsof", path}
		if filter != "" {
			argv = []string{"lsof", "-a", "-p", filter, path}
		}
		out, err := r.runner.Run(ctx, argv, runner.AllowFailure())
		if err != nil {
			return nil, err
		}
		return ParseConnections(out)
	})
}

// ParseConnections parses lsof's default output. The header row is
// dropped, as are "lsof: WARNING" lines printed before it.
func ParseConnections(out string) ([]model.Connection, error) {
	conns := []model.Connection{}
	header := true
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "lsof:") {
			continue
		}
		if header {
			header = false
			continue
		}
		conn, err := parseRow(line)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func parseRow(line string) (model.Connection, error) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return model.Connection{}, &ParseError{Line: line, Reason: fmt.Sprintf("%d fields, want %d", len(fields), minFields)}
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.Connection{}, &ParseError{Line: line, Reason: "non-numeric pid"}
	}
	return model.Connection{
		CommandName: fields[0],
		PID:         pid,
		User:        fields[2],
		FD:          fields[3],
		Type:        fields[4],
		Device:      fields[5],
		Size:        fields[6],
		Node:        fields[7],
		FileName:    strings.Join(fields[8:], " "),
	}, nil
}

// pidFilter renders pids as lsof's comma list, sorted and deduplicated so
// equal sets share a cache entry.
func pidFilter(pids []int) string {
	if len(pids) == 0 {
		return ""
	}
	uniq := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		uniq[pid] = struct{}{}
	}
	sorted := make([]int, 0, len(uniq))
	for pid := range uniq {
		sorted = append(sorted, pid)
	}
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, pid := range sorted {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}

// JoinViaTTY finds the processes of tree that hold one of the panes'
// terminals open. When every pane can name its candidate PIDs, lsof is
// restricted to those plus the tree, which is much faster.
//
// The result has one PaneConnection per matching process, in the order the
// processes were first found; a process seen on several panes keeps the
// last one.
func (r *Resolver) JoinViaTTY(ctx context.Context, tree model.ProcessTree, panes []model.Pane) []model.PaneConnection {
	if len(panes) == 0 {
		return nil
	}

	hitlist := make(map[int]model.ProcessInfo, len(tree))
	for _, p := range tree {
		hitlist[p.PID] = p
	}

	ttys := make([]string, len(panes))
	filter := tree.PIDs()
	for i, pane := range panes {
		ttys[i] = pane.TTY()
		src, ok := pane.(model.PIDSource)
		if !ok {
			filter = nil
			continue
		}
		if filter != nil {
			filter = append(filter, src.CandidatePIDs()...)
		}
	}

	lsofs := r.Lsofs(ctx, ttys, filter)

	hits := make(map[int]model.PaneConnection)
	var order []int
	for _, pane := range panes {
		for _, conn := range lsofs[pane.TTY()] {
			process, ok := hitlist[conn.PID]
			if !ok {
				continue
			}
			if _, seen := hits[conn.PID]; !seen {
				order = append(order, conn.PID)
			}
			hits[conn.PID] = model.PaneConnection{Pane: pane, Connection: conn, Process: process}
		}
	}

	out := make([]model.PaneConnection, len(order))
	for i, pid := range order {
		out[i] = hits[pid]
	}
	return out
}
