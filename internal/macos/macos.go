// Package macos talks to macOS GUI applications through an embedded
// JavaScript for Automation helper run by osascript.
package macos

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/runner"
)

//go:embed helper.js
var helperScript []byte

// ToolError is an exception raised inside the helper script.
type ToolError struct {
	Method  string
	Message string
	Stack   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("macOS helper %s: %s", e.Method, e.Message)
}

// Helper runs methods of the helper script.
type Helper struct {
	runner runner.Runner
	dir    string

	once sync.Once
	path string
	err  error
}

// NewHelper creates a Helper that installs its script under dir, or the
// system temp dir if dir is empty.
func NewHelper(r runner.Runner, dir string) *Helper {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Helper{runner: r, dir: dir}
}

// ScriptPath writes the helper script to disk once and returns its path.
// The file name carries a content hash, so upgrades never run a stale copy.
func (h *Helper) ScriptPath() (string, error) {
	h.once.Do(func() {
		sum := sha256.Sum256(helperScript)
		path := filepath.Join(h.dir, "appear-helper-"+hex.EncodeToString(sum[:6])+".js")
		if existing, err := os.ReadFile(path); err == nil && string(existing) == string(helperScript) {
			h.path = path
			return
		}
		if err := os.WriteFile(path, helperScript, 0o644); err != nil {
			h.err = errors.Wrap(err, "install macOS helper")
			return
		}
		h.path = path
	})
	return h.path, h.err
}

// CallMethod runs method with payload encoded as JSON and returns the
// method's value. payload may be nil.
func (h *Helper) CallMethod(ctx context.Context, method string, payload any) (gjson.Result, error) {
	path, err := h.ScriptPath()
	if err != nil {
		return gjson.Result{}, err
	}
	argv := []string{"osascript", "-l", "JavaScript", path, method}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, errors.Wrapf(err, "encode %s payload", method)
		}
		argv = append(argv, string(data))
	}

	out, err := h.runner.Run(ctx, argv)
	if err != nil {
		return gjson.Result{}, err
	}
	return ParseResponse(method, out)
}

// ParseResponse decodes the helper's status line, which is the last line
// of its output.
func ParseResponse(method, out string) (gjson.Result, error) {
	last := lastLine(out)
	if !gjson.Valid(last) {
		return gjson.Result{}, errors.Errorf("macOS helper %s: unexpected output %q", method, out)
	}
	res := gjson.Parse(last)
	switch status := res.Get("status").String(); status {
	case "ok":
		return res.Get("value"), nil
	case "error":
		return gjson.Result{}, errors.WithStack(&ToolError{
			Method:  method,
			Message: res.Get("error.message").String(),
			Stack:   res.Get("error.stack").String(),
		})
	default:
		return gjson.Result{}, errors.Errorf("macOS helper %s: unknown status %q", method, status)
	}
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// HasGUI reports whether p's executable lives inside an application
// bundle. A bundle path given as an argument does not count. ps splits
// paths with spaces across words, so the executable is everything before
// the first word that starts another path or a flag.
func HasGUI(p model.ProcessInfo) bool {
	line := p.CommandLine()
	i := strings.Index(line, ".app/Contents/")
	if i < 0 || !strings.HasPrefix(line, "/") {
		return false
	}
	exe := line[:i]
	return !strings.Contains(exe, " /") && !strings.Contains(exe, " -")
}
