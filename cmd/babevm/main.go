// Command babevm boots a Machine from flag-driven Config, the same
// flag-then-construct flow the teacher's main.go follows before it ever
// touches a GVM, and runs it to completion.
package main

import (
	"flag"
	"fmt"
	"os"

	"babevm/internal/classdesc"
	"babevm/internal/classio"
	"babevm/internal/heap"
	"babevm/internal/sched"
	"babevm/internal/vm"
	"babevm/internal/vmlog"
)

var (
	heapSize   = flag.Uint("heap", 1<<20, "heap size in bytes")
	stackDepth = flag.Int("stack-segment", 256, "cells per stack segment")
	logLevel   = flag.String("log-level", "info", "minimum log severity: trace, info, warning, error, fatal")
	mainClass  = flag.String("main", "", "fully-qualified name of the class whose main thread to start")
)

func parseSeverity(s string) vmlog.Severity {
	switch s {
	case "trace":
		return vmlog.Trace
	case "warning":
		return vmlog.Warning
	case "error":
		return vmlog.Error
	case "fatal":
		return vmlog.Fatal
	default:
		return vmlog.Info
	}
}

func main() {
	flag.Parse()

	log := vmlog.New(os.Stderr, parseSeverity(*logLevel))

	cfg := vm.NewConfig()
	cfg.HeapSize = uint32(*heapSize)
	cfg.StackSegmentHeight = *stackDepth
	cfg.UserClasspath = flag.Args()
	cfg.MainClass = *mainClass

	loader := classio.NewMemLoader()
	natives := classio.NewNativeTable()
	platform := classio.NewStdPlatform()

	m, err := vm.New(cfg, loader, natives, platform, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "babevm:", err)
		os.Exit(2)
	}

	bootMainThread(m, log)

	code, msg := m.Run()
	if msg != "" {
		fmt.Fprintln(os.Stderr, "babevm:", msg)
	}
	os.Exit(int(code))
}

// bootMainThread resolves cfg.MainClass through the loader and starts it
// as the VM's first, non-daemon thread, the analogue of the teacher's
// NewVirtualMachine reading its program file(s) before main loops.
func bootMainThread(m *vm.Machine, log *vmlog.Logger) {
	if m.Config.MainClass == "" {
		log.Log("no -main class given, VM has no runnable thread", vmlog.Warning)
		return
	}

	class, err := m.Loader.LoadClass(m.Config.MainClass)
	if err != nil {
		log.Log(fmt.Sprintf("loading main class %q: %v", m.Config.MainClass, err), vmlog.Fatal)
		return
	}

	var runMethod *classdesc.Method
	for i := range class.Methods {
		if class.Methods[i].Name == "main" {
			runMethod = &class.Methods[i]
			break
		}
	}
	if runMethod == nil {
		log.Log(fmt.Sprintf("class %q has no main method", m.Config.MainClass), vmlog.Fatal)
		return
	}

	m.StartThread(heap.Null, sched.PriorityNormal, false, runMethod)
}
