package logger

import (
	"fmt"
	"runtime"
	"strings"
)

// CaptureStacktrace formats up to depth frames starting skip frames above
// the caller. depth <= 0 means 32.
func CaptureStacktrace(skip int, depth int) string {
	if depth <= 0 {
		depth = 32
	}
	pcs := make([]uintptr, depth*2)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	lines := make([]string, 0, depth)
	for {
		f, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s\n\t%s:%d", f.Function, f.File, f.Line))
		if len(lines) >= depth || !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}
