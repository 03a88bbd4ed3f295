package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoRecording is returned by Playback for a command it has no more
// recordings of.
var ErrNoRecording = errors.New("no recording for command")

// Playback is a Runner that answers from recordings instead of spawning
// processes. Each command's recordings are replayed in the order they were
// made; once exhausted, the last one repeats.
type Playback struct {
	mu     sync.Mutex
	byArgv map[string][]Recording
	next   map[string]int
}

// NewPlayback creates an empty Playback.
func NewPlayback() *Playback {
	return &Playback{
		byArgv: make(map[string][]Recording),
		next:   make(map[string]int),
	}
}

// LoadPlayback reads every recording matching glob.
func LoadPlayback(glob string) (*Playback, error) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", glob)
	}

	var recs []Recording
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read recording %s", path)
		}
		var rec Recording
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode recording %s", path)
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RecordAt.Before(recs[j].RecordAt)
	})

	p := NewPlayback()
	for _, rec := range recs {
		p.Add(rec)
	}
	return p, nil
}

// Add appends a recording.
func (p *Playback) Add(rec Recording) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := argvKey(rec.Command)
	p.byArgv[key] = append(p.byArgv[key], rec)
}

// Stub records a successful run of argv with the given output.
func (p *Playback) Stub(out string, argv ...string) {
	p.Add(Recording{Command: argv, Output: out, Status: StatusSuccess})
}

// StubFailure records a failed run of argv with the given output.
func (p *Playback) StubFailure(out string, argv ...string) {
	p.Add(Recording{Command: argv, Output: out, Status: StatusError})
}

// Calls returns how many times argv has been run.
func (p *Playback) Calls(argv ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next[argvKey(argv)]
}

// Run implements Runner.
func (p *Playback) Run(_ context.Context, argv []string, opts ...Option) (string, error) {
	o := applyOptions(opts)
	key := argvKey(argv)

	p.mu.Lock()
	recs := p.byArgv[key]
	idx := p.next[key]
	p.next[key] = idx + 1
	p.mu.Unlock()

	if len(recs) == 0 {
		return "", errors.Wrapf(ErrNoRecording, "%q", argv)
	}
	if idx >= len(recs) {
		idx = len(recs) - 1
	}
	rec := recs[idx]

	if rec.Status == StatusError && !o.allowFailure {
		return "", errors.WithStack(&ExecutionFailure{Command: argv, Output: rec.Output})
	}
	return rec.Output, nil
}

func argvKey(argv []string) string {
	return strings.Join(argv, "\x00")
}
