// Package editor opens files in a running editor session, or starts one
// inside tmux.
package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/airbnb/appear/internal/runner"
)

// NoName is how nvim shows a buffer without a file.
const NoName = "[No Name]"

const nvrCommand = "nvr"

// NvimError reports output from nvim that could not be understood.
type NvimError struct {
	Output string
	Err    error
}

func (e *NvimError) Error() string {
	return fmt.Sprintf("unexpected nvim output %q: %v", e.Output, e.Err)
}

func (e *NvimError) Unwrap() error { return e.Err }

// Nvim is a running neovim reached through neovim-remote on a socket.
type Nvim struct {
	Socket string
	runner runner.Runner
}

func NewNvim(socket string, r runner.Runner) *Nvim {
	return &Nvim{Socket: socket, runner: r}
}

// Buffer describes an nvim buffer and its name under several filename
// modifiers.
type Buffer struct {
	Number       int
	Name         string
	FullName     string
	Path         string
	RelativeName string
	RelativePath string
	ShortName    string
}

// bufferModifiers are the fnamemodify() modifiers for Buffer's names, in
// field order.
var bufferModifiers = []string{"", ":p", ":p:h", ":~:.", ":~:.:h", ":t"}

// buffersExpr lists every buffer as [number, name per modifier...].
var buffersExpr = func() string {
	names := make([]string, len(bufferModifiers))
	for i, mod := range bufferModifiers {
		names[i] = fmt.Sprintf("fnamemodify(bufname(v:val), '%s')", mod)
	}
	return fmt.Sprintf(`map(range(1, bufnr('$')), "[v:val, %s]")`, strings.Join(names, ", "))
}()

// tabsExpr lists the buffer shown by each window, grouped by tab.
const tabsExpr = `map(range(1, tabpagenr('$')), "tabpagebuflist(v:val)")`

const sizeExpr = "[&columns, &lines]"

// NvimPane is an nvim window showing a buffer. Tabs and windows are
// numbered from 1.
type NvimPane struct {
	Tab    int
	Window int
	Buffer Buffer
}

func (n *Nvim) command(args ...string) []string {
	return append([]string{nvrCommand, "--servername", n.Socket}, args...)
}

// Expr evaluates a vimscript expression and decodes the result into out.
// Vimscript values print close enough to YAML flow syntax to parse as it.
func (n *Nvim) Expr(ctx context.Context, expr string, out any) error {
	raw, err := n.runner.Run(ctx, n.command("--remote-expr", expr))
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(raw), out); err != nil {
		return errors.WithStack(&NvimError{Output: raw, Err: err})
	}
	return nil
}

// Cmd runs an ex command.
func (n *Nvim) Cmd(ctx context.Context, cmd string) error {
	_, err := n.runner.Run(ctx, n.command("-c", cmd))
	return err
}

// PID returns the nvim process id.
func (n *Nvim) PID(ctx context.Context) (int, error) {
	var pid int
	if err := n.Expr(ctx, "getpid()", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// Cwd returns nvim's working directory. It is read verbatim, since a
// directory name can look like any YAML scalar.
func (n *Nvim) Cwd(ctx context.Context) (string, error) {
	raw, err := n.runner.Run(ctx, n.command("--remote-expr", "getcwd()"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// Size returns the editor's width and height in cells.
func (n *Nvim) Size(ctx context.Context) (int, int, error) {
	var size []int
	if err := n.Expr(ctx, sizeExpr, &size); err != nil {
		return 0, 0, err
	}
	if len(size) != 2 {
		return 0, 0, errors.Errorf("nvim size: got %v", size)
	}
	return size[0], size[1], nil
}

func (n *Nvim) OpenTab(ctx context.Context, file string) error {
	return n.Cmd(ctx, "tabedit "+escapeFilename(file))
}

func (n *Nvim) VSplit(ctx context.Context, file string) error {
	return n.Cmd(ctx, "vsplit "+escapeFilename(file))
}

func (n *Nvim) HSplit(ctx context.Context, file string) error {
	return n.Cmd(ctx, "split "+escapeFilename(file))
}

// Panes lists every window of every tab.
func (n *Nvim) Panes(ctx context.Context) ([]NvimPane, error) {
	buffers, err := n.buffers(ctx)
	if err != nil {
		return nil, err
	}
	var tabs [][]int
	if err := n.Expr(ctx, tabsExpr, &tabs); err != nil {
		return nil, err
	}

	var panes []NvimPane
	for ti, windows := range tabs {
		for wi, bufnr := range windows {
			pane := NvimPane{Tab: ti + 1, Window: wi + 1, Buffer: Buffer{Number: bufnr, Name: NoName}}
			if b, ok := buffers[bufnr]; ok {
				pane.Buffer = b
			}
			panes = append(panes, pane)
		}
	}
	return panes, nil
}

func (n *Nvim) buffers(ctx context.Context) (map[int]Buffer, error) {
	var rows [][]string
	if err := n.Expr(ctx, buffersExpr, &rows); err != nil {
		return nil, err
	}
	buffers := make(map[int]Buffer, len(rows))
	for _, row := range rows {
		if len(row) != len(bufferModifiers)+1 {
			return nil, errors.Errorf("nvim buffer row has %d fields", len(row))
		}
		num, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, errors.WithStack(&NvimError{Output: row[0], Err: err})
		}
		b := Buffer{
			Number:       num,
			Name:         row[1],
			FullName:     row[2],
			Path:         row[3],
			RelativeName: row[4],
			RelativePath: row[5],
			ShortName:    row[6],
		}
		if b.Name == "" {
			b.Name = NoName
		}
		buffers[num] = b
	}
	return buffers, nil
}

// FindFile returns the first pane showing file.
func (n *Nvim) FindFile(ctx context.Context, file string) (NvimPane, bool, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return NvimPane{}, false, errors.WithStack(err)
	}
	panes, err := n.Panes(ctx)
	if err != nil {
		return NvimPane{}, false, err
	}
	for _, p := range panes {
		if p.Buffer.FullName == abs {
			return p, true, nil
		}
	}
	return NvimPane{}, false, nil
}

// Focus moves the cursor to pane.
func (n *Nvim) Focus(ctx context.Context, pane NvimPane) error {
	return n.Cmd(ctx, fmt.Sprintf("tabnext %d | %dwincmd w", pane.Tab, pane.Window))
}

func escapeFilename(file string) string {
	return strings.NewReplacer(" ", `\ `, "%", `\%`, "#", `\#`, "|", `\|`).Replace(file)
}

// Sockets lists the nvim sockets matching glob. A leading ~ is the home
// directory.
func Sockets(glob string) ([]string, error) {
	expanded, err := expandHome(glob)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(expanded)
	return matches, errors.Wrapf(err, "glob %s", glob)
}

// FindForFile returns the first nvim whose working directory contains
// file. Sockets whose nvim does not answer are skipped.
func FindForFile(ctx context.Context, sockets []string, file string, r runner.Runner) (*Nvim, bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, false
	}
	for _, sock := range sockets {
		n := NewNvim(sock, r)
		cwd, err := n.Cwd(ctx)
		if err != nil || cwd == "" {
			continue
		}
		if pathContains(cwd, abs) {
			return n, true
		}
	}
	return nil, false
}

func pathContains(dir, file string) bool {
	rel, err := filepath.Rel(dir, file)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "expand ~")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
