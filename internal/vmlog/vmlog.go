// Package vmlog provides BVM's ambient diagnostic logging. The teacher
// prints diagnostics directly with fmt.Print*/Println to stdout from
// inside its debugger REPL (vm/run.go, main.go's step loop); no example
// repo pulls in a logging framework. The single Log(msg, severity) entry
// point and severity scale below follow the same shape as Jacobin's
// log.Log(msg, severity) calls (other_examples/..eltociear-jacobin..-run.go),
// built on the standard log package rather than a third-party one since
// that is what both reference points actually do.
package vmlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Severity orders BVM's diagnostic levels, least severe first.
type Severity int

const (
	Trace Severity = iota
	Info
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Trace:
		return "TRACE"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return fmt.Sprintf("Severity(%d)", s)
	}
}

// Logger wraps a standard *log.Logger with a minimum severity filter, the
// way a VM component (the allocator refusing a too-large request, the
// collector reporting a completed cycle, the scheduler reporting a thread
// exit) would each call a single shared Log(msg, severity) rather than
// building their own ad hoc prefix per package.
type Logger struct {
	out *log.Logger
	min Severity
}

// New creates a Logger writing to w, filtering out anything below min.
func New(w io.Writer, min Severity) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), min: min}
}

// Default writes to os.Stderr at Info and above, BVM's out-of-the-box
// verbosity.
func Default() *Logger { return New(os.Stderr, Info) }

// Log writes msg at severity sev, provided sev is at least the logger's
// configured minimum.
func (l *Logger) Log(msg string, sev Severity) {
	if sev < l.min {
		return
	}
	l.out.Printf("[%s] %s", sev, msg)
}

// Logf formats and logs, mirroring the teacher's fmt.Printf call sites.
func (l *Logger) Logf(sev Severity, format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), sev)
}

func (l *Logger) Trace(msg string)   { l.Log(msg, Trace) }
func (l *Logger) Info(msg string)    { l.Log(msg, Info) }
func (l *Logger) Warning(msg string) { l.Log(msg, Warning) }
func (l *Logger) Error(msg string)   { l.Log(msg, Error) }

// FatalAndExit logs at Fatal and terminates the process — reserved for
// conditions below even vmerr's VM-exit protocol, such as a configuration
// error discovered before a Machine exists to unwind through.
func (l *Logger) FatalAndExit(msg string) {
	l.Log(msg, Fatal)
	os.Exit(1)
}

// SetMinSeverity adjusts the filter level, e.g. from a -v/-verbose flag.
func (l *Logger) SetMinSeverity(min Severity) { l.min = min }
