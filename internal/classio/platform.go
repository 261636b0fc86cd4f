package classio

import (
	"io"
	"os"
	"time"
)

// StdPlatform is the concrete Platform bound to the real OS process —
// the cmd/babevm binary's collaborator, the way the teacher's real
// hardware devices (vm/devices.go) sit behind the same HardwareDevice
// interface a test's fake device does.
type StdPlatform struct {
	console io.ReadWriter
}

// NewStdPlatform binds a Platform to the process's own stdin/stdout.
func NewStdPlatform() *StdPlatform {
	return &StdPlatform{console: stdConsole{}}
}

// SystemTimeMillis implements Platform.
func (StdPlatform) SystemTimeMillis() int64 { return time.Now().UnixMilli() }

// Console implements Platform.
func (p *StdPlatform) Console() io.ReadWriter { return p.console }

// OpenFile implements Platform.
func (StdPlatform) OpenFile(path string, flag int, perm uint32) (io.ReadWriteCloser, error) {
	return os.OpenFile(path, flag, os.FileMode(perm))
}

// stdConsole pairs os.Stdin/os.Stdout behind one io.ReadWriter, since
// Platform.Console wants a single handle a native method can both read
// and write through.
type stdConsole struct{}

func (stdConsole) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdConsole) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
