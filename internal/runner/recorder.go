package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Recording is one captured command run, as written to disk by Recorder
// and read back by Playback.
type Recording struct {
	Command    []string  `json:"command"`
	Output     string    `json:"output"`
	Status     string    `json:"status"`
	RunIndex   int       `json:"run_index"`
	RecordAt   time.Time `json:"record_at"`
	InitAt     time.Time `json:"init_at"`
	Invocation string    `json:"invocation"`
}

// Recording statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder wraps a Runner and writes every run to its own JSON file in Dir,
// named <invocation>-<command>-run<N>.json. The files replay through
// Playback.
type Recorder struct {
	inner Runner
	dir   string

	id     xid.ID
	initAt time.Time

	mu   sync.Mutex
	runs map[string]int
}

// NewRecorder records runs of inner into dir, creating it if needed. id
// names the files and is stamped into each recording.
func NewRecorder(inner Runner, dir string, id xid.ID) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create record dir %s", dir)
	}
	return &Recorder{
		inner:  inner,
		dir:    dir,
		id:     id,
		initAt: time.Now(),
		runs:   make(map[string]int),
	}, nil
}

// Invocation identifies this recorder's files.
func (r *Recorder) Invocation() string {
	return r.id.String()
}

// Run implements Runner. The inner runner is always asked to fail loudly so
// that failures are recorded with their output; AllowFailure is then
// applied here.
func (r *Recorder) Run(ctx context.Context, argv []string, opts ...Option) (string, error) {
	o := applyOptions(opts)

	out, err := r.inner.Run(ctx, argv)
	var failure *ExecutionFailure
	switch {
	case err == nil:
		if recErr := r.record(argv, out, StatusSuccess); recErr != nil {
			return "", recErr
		}
		return out, nil
	case errors.As(err, &failure):
		if recErr := r.record(argv, failure.Output, StatusError); recErr != nil {
			return "", recErr
		}
		if o.allowFailure {
			return failure.Output, nil
		}
		return "", err
	default:
		return "", err
	}
}

func (r *Recorder) record(argv []string, out, status string) error {
	name := CommandName(argv)

	r.mu.Lock()
	idx := r.runs[name]
	r.runs[name] = idx + 1
	r.mu.Unlock()

	rec := Recording{
		Command:    argv,
		Output:     out,
		Status:     status,
		RunIndex:   idx,
		RecordAt:   time.Now(),
		InitAt:     r.initAt,
		Invocation: r.id.String(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode recording")
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s-run%d.json", r.id, name, idx))
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write recording %s", path)
}
