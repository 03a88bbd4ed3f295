// Package output is where appear sends its logs and its user-facing lines.
//
// Log lines go to a human-readable console writer on stderr when verbose,
// and as JSON to the log file when one is configured. Print writes to
// stdout and mirrors the line into the log.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the logging surface the rest of appear depends on.
type Logger interface {
	// Log records a debug line with alternating key/value pairs.
	Log(msg string, kv ...any)
	// LogError records err, including its stack when it carries one.
	LogError(err error)
}

// Options configures New.
type Options struct {
	LogFile string
	Verbose bool
	// Invocation is stamped on every log line, if set.
	Invocation string

	Stdout io.Writer
	Stderr io.Writer
}

// Output implements Logger on top of zerolog.
type Output struct {
	log    zerolog.Logger
	stdout io.Writer
	file   *os.File
}

// New opens the configured sinks.
func New(opts Options) (*Output, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	o := &Output{stdout: opts.Stdout}
	if o.stdout == nil {
		o.stdout = os.Stdout
	}

	var writers []io.Writer
	if opts.Verbose {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"})
	}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", opts.LogFile)
		}
		o.file = f
		writers = append(writers, f)
	}

	if len(writers) == 0 {
		o.log = zerolog.Nop()
		return o, nil
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp()
	if opts.Invocation != "" {
		ctx = ctx.Str("invocation", opts.Invocation)
	}
	o.log = ctx.Logger()
	return o, nil
}

// Nop returns an Output that discards everything.
func Nop() *Output {
	return &Output{log: zerolog.Nop(), stdout: io.Discard}
}

// Log records a debug line.
func (o *Output) Log(msg string, kv ...any) {
	ev := o.log.Debug()
	if len(kv) > 0 {
		ev = ev.Fields(kv)
	}
	ev.Msg(msg)
}

// LogError records err at error level with its stack trace.
func (o *Output) LogError(err error) {
	if err == nil {
		return
	}
	o.log.Error().Stack().Err(err).Msg("error")
}

// Print writes a line to stdout and mirrors it into the log.
func (o *Output) Print(a ...any) {
	line := fmt.Sprint(a...)
	fmt.Fprintln(o.stdout, line)
	o.log.Info().Msg(line)
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
