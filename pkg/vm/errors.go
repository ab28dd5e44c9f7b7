// Package vm - error handling with process traces
package vm

import (
	"fmt"
	"strings"
)

// StackFrame identifies one process active when a runtime error
// occurred: its name (main process, or the invoked function name) and
// the instruction index it was executing.
type StackFrame struct {
	Name string // "main" or the invoked function's name
	IP   int    // instruction index at time of error
}

// RuntimeError reports a fatal interpreter error together with the
// chain of processes active when it happened: the outermost
// process first, the process that actually faulted last.
type RuntimeError struct {
	Message string
	Trace   []StackFrame
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Trace) > 0 {
		b.WriteString("\n\nprocess trace:")
		for i := len(e.Trace) - 1; i >= 0; i-- {
			frame := e.Trace[i]
			fmt.Fprintf(&b, "\n  in %s at instruction %d", frame.Name, frame.IP)
		}
	}
	return b.String()
}

func newRuntimeError(format string, trace []StackFrame, args ...any) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...), Trace: trace}
}
