// forktrace-reaper is the sub-reaper helper. It runs the tracer as its
// child and adopts any zombie the tracees orphan, telling the tracer who
// got reaped through a pipe. It has to be a separate ancestor process:
// PR_SET_CHILD_SUBREAPER only catches descendants.
package main

import (
	"fmt"
	"os"

	"github.com/forktrace/forktrace/pkg/reaper"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: forktrace-reaper TRACER [ARGS...]")
		os.Exit(2)
	}
	os.Exit(reaper.Run(os.Args[1:]))
}
