package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ProcessInfo is a snapshot of one OS process.
type ProcessInfo struct {
	// PID is the process ID.
	PID int `json:"pid"`
	// ParentPID is the parent process ID (0 for the root of the tree).
	ParentPID int `json:"parent_pid"`
	// Command is argv, as reported by ps.
	Command []string `json:"command"`
	// Name is the basename of argv[0].
	Name string `json:"name"`
}

// NewProcessInfo builds a ProcessInfo and derives its Name from argv[0].
func NewProcessInfo(pid, ppid int, command []string) ProcessInfo {
	info := ProcessInfo{PID: pid, ParentPID: ppid, Command: command}
	if len(command) > 0 {
		info.Name = filepath.Base(command[0])
	}
	return info
}

// CommandLine returns argv joined by single spaces.
func (p ProcessInfo) CommandLine() string {
	return strings.Join(p.Command, " ")
}

// Get implements field access for relational joins.
func (p ProcessInfo) Get(field string) (any, bool) {
	switch field {
	case "pid":
		return p.PID, true
	case "parent_pid":
		return p.ParentPID, true
	case "command":
		return p.Command, true
	case "name":
		return p.Name, true
	}
	return nil, false
}

// ProcessTree is an ancestry chain: the target process first, then its
// parent, and so on up to the root.
type ProcessTree []ProcessInfo

// Target returns the first entry of the tree.
func (t ProcessTree) Target() ProcessInfo {
	if len(t) == 0 {
		return ProcessInfo{}
	}
	return t[0]
}

// Rest returns every ancestor of the target.
func (t ProcessTree) Rest() ProcessTree {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// Find returns the first process with the given name.
func (t ProcessTree) Find(name string) (ProcessInfo, bool) {
	for _, p := range t {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessInfo{}, false
}

// PIDs returns the PID of every entry, in tree order.
func (t ProcessTree) PIDs() []int {
	pids := make([]int, len(t))
	for i, p := range t {
		pids[i] = p.PID
	}
	return pids
}

// String formats the tree one process per line, indented by depth from
// the root, e.g. for `appear tree`.
func (t ProcessTree) String() string {
	var b strings.Builder
	for i := len(t) - 1; i >= 0; i-- {
		depth := len(t) - 1 - i
		fmt.Fprintf(&b, "%s%d %s\n", strings.Repeat("  ", depth), t[i].PID, t[i].CommandLine())
	}
	return b.String()
}

// Connection is one row of lsof output: a process holding a file open.
type Connection struct {
	CommandName string `json:"command_name"`
	PID         int    `json:"pid"`
	User        string `json:"user"`
	FD          string `json:"fd"`
	Type        string `json:"type"`
	Device      string `json:"device"`
	Size        string `json:"size"`
	Node        string `json:"node"`
	FileName    string `json:"file_name"`
}

// Get implements field access for relational joins.
func (c Connection) Get(field string) (any, bool) {
	switch field {
	case "command_name":
		return c.CommandName, true
	case "pid":
		return c.PID, true
	case "user":
		return c.User, true
	case "fd":
		return c.FD, true
	case "type":
		return c.Type, true
	case "device":
		return c.Device, true
	case "size":
		return c.Size, true
	case "node":
		return c.Node, true
	case "file_name":
		return c.FileName, true
	}
	return nil, false
}

// Pane is anything backed by a terminal device: a GUI terminal tab, a
// multiplexer pane.
type Pane interface {
	TTY() string
}

// PIDSource is implemented by panes that know which processes may be
// attached to their terminal. Knowing them lets lsof narrow its search.
type PIDSource interface {
	CandidatePIDs() []int
}

// PaneConnection records that Process holds Pane's terminal open.
type PaneConnection struct {
	Pane       Pane
	Connection Connection
	Process    ProcessInfo
}

// TTY returns the terminal the connection was made through.
func (pc PaneConnection) TTY() string {
	return pc.Pane.TTY()
}

// PID returns the PID of the connected process.
func (pc PaneConnection) PID() int {
	return pc.Process.PID
}
