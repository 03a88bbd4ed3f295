// Package reveal finds the terminal surfaces hosting a process and brings
// them to the front.
//
// An Instance resolves a PID's ancestry and hands it to each registered
// Revealer in order. Every revealer runs, whatever the earlier ones did,
// since one process can be visible through several layers at once: a tmux
// pane whose client runs inside an iTerm2 tab.
package reveal

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/otel"
	"github.com/airbnb/appear/internal/output"
)

// DefaultMaxDepth bounds how many times a revealer may recurse into another
// reveal, as the tmux revealer does for its client.
const DefaultMaxDepth = 4

var tracer = otel.Tracer("reveal")

// Outcomes recorded by the reveal.attempts metric.
const (
	outcomeRevealed    = "revealed"
	outcomeNotFound    = "not_found"
	outcomeError       = "error"
	outcomeUnsupported = "unsupported"
)

// Revealer focuses the surface showing a process tree.
type Revealer interface {
	Name() string

	// SupportsTree reports whether this revealer can apply: usually
	// whether its host program is among the ancestors.
	SupportsTree(target model.ProcessInfo, rest model.ProcessTree) bool

	// RevealTree focuses tree's target. It returns false without error
	// when nothing matched.
	RevealTree(ctx context.Context, tree model.ProcessTree) (bool, error)
}

// RevealFunc reveals a PID from the top. Revealers that discover a new
// process to show, like a multiplexer client, call back through it.
type RevealFunc func(ctx context.Context, pid int) (bool, error)

// TreeResolver resolves process ancestry. *proc.Resolver implements it.
type TreeResolver interface {
	ProcessTree(ctx context.Context, pid int) (model.ProcessTree, error)
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Instance runs the revealer chain.
type Instance struct {
	procs     TreeResolver
	log       output.Logger
	metrics   *otel.Metrics
	maxDepth  int
	revealers []Revealer
}

// NewInstance creates an Instance with no revealers. A maxDepth of zero or
// less means DefaultMaxDepth.
func NewInstance(procs TreeResolver, log output.Logger, metrics *otel.Metrics, maxDepth int) *Instance {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Instance{procs: procs, log: log, metrics: metrics, maxDepth: maxDepth}
}

// Use appends revealers to the chain.
func (in *Instance) Use(rs ...Revealer) {
	in.revealers = append(in.revealers, rs...)
}

// Revealers returns the chain in order.
func (in *Instance) Revealers() []Revealer {
	return append([]Revealer(nil), in.revealers...)
}

// ProcessTree returns pid's ancestry.
func (in *Instance) ProcessTree(ctx context.Context, pid int) (model.ProcessTree, error) {
	return in.procs.ProcessTree(ctx, pid)
}

// Reveal shows pid in every surface that hosts it, reporting whether any
// revealer focused something.
//
// Failing to resolve pid's ancestry is fatal. A failing revealer is logged
// and the rest still run; their errors are joined into the result.
func (in *Instance) Reveal(ctx context.Context, pid int) (bool, error) {
	depth := depthFrom(ctx)
	if depth > in.maxDepth {
		in.log.Log("reveal depth limit reached, skipping", "pid", pid, "depth", depth)
		return false, nil
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	ctx, span := tracer.Start(ctx, "reveal", trace.WithAttributes(
		attribute.Int("pid", pid),
		attribute.Int("depth", depth),
	))
	defer span.End()

	start := time.Now()
	tree, err := in.procs.ProcessTree(ctx, pid)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, errors.Wrapf(err, "resolve ancestry of %d", pid)
	}
	in.log.Log("resolved process tree", "pid", pid, "depth", depth, "tree", tree.String())

	target, rest := tree.Target(), tree.Rest()
	revealed := false
	var errs []error
	for _, r := range in.revealers {
		if !r.SupportsTree(target, rest) {
			in.metrics.RecordReveal(ctx, r.Name(), outcomeUnsupported)
			continue
		}
		ok, err := in.revealTree(ctx, r, tree)
		if err != nil {
			in.log.LogError(errors.Wrapf(err, "revealer %s", r.Name()))
			errs = append(errs, err)
		}
		revealed = revealed || ok
	}

	in.log.Log("reveal done", "pid", pid, "revealed", revealed, "elapsed", time.Since(start).String())
	span.SetAttributes(attribute.Bool("revealed", revealed))
	joined := stderrors.Join(errs...)
	if joined != nil {
		span.SetStatus(codes.Error, joined.Error())
	}
	return revealed, joined
}

func (in *Instance) revealTree(ctx context.Context, r Revealer, tree model.ProcessTree) (bool, error) {
	ctx, span := tracer.Start(ctx, "reveal_tree", trace.WithAttributes(attribute.String("revealer", r.Name())))
	defer span.End()

	in.log.Log("revealer applies", "revealer", r.Name())
	ok, err := r.RevealTree(ctx, tree)
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		in.metrics.RecordReveal(ctx, r.Name(), outcomeError)
	case ok:
		in.metrics.RecordReveal(ctx, r.Name(), outcomeRevealed)
	default:
		in.metrics.RecordReveal(ctx, r.Name(), outcomeNotFound)
	}
	return ok, err
}
