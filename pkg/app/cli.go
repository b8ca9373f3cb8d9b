// Package app is the command surface: CLI flags, the interactive prompt,
// and the glue that runs traces and displays diagrams.
package app

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/forktrace/forktrace/pkg/diagram"
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/screen"
	"github.com/forktrace/forktrace/pkg/system"
	"github.com/forktrace/forktrace/pkg/version"
)

// Options is all the mutable program configuration in one place. The
// interactive toggles mutate it through the prompt.
type Options struct {
	Reaper     bool
	ScrollView bool
	MergeExecs bool
	Diagram    diagram.Options
}

func defaultOptions() *Options {
	return &Options{
		Reaper:     true,
		MergeExecs: true,
		Diagram:    diagram.DefaultOptions(),
	}
}

// Run is the program entry point (called from main). The exit code is
// handed back to the caller.
func Run() int {
	opts := defaultOptions()

	var verbose, debug, noLog bool

	app := &cli.App{
		Name:                   "forktrace",
		Usage:                  "trace fork/exec/wait/signal activity and draw it as a diagram",
		ArgsUsage:              "[--] [program [args...]]",
		Version:                version.Tag(),
		UseShortOptionHandling: true,
		HideHelpCommand:        true,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-colour", Aliases: []string{"c"}, Usage: "disables colours"},
			&cli.BoolFlag{Name: "no-reaper", Usage: "disables the sub-reaper process"},
			&cli.IntFlag{Name: "status", Value: -1, Usage: "diagnose a wait(2) child status"},
			&cli.IntFlag{Name: "syscall", Value: -1, Usage: "print info about a syscall number"},
			&cli.BoolFlag{Name: "scroll-view", Aliases: []string{"s"}, Usage: "always use the scroll-view when in instant mode"},
			&cli.StringFlag{Name: "non-fatal", Usage: "show or hide non-fatal signals (yes|no)"},
			&cli.StringFlag{Name: "execs", Usage: "show or hide successful execs (yes|no)"},
			&cli.StringFlag{Name: "bad-execs", Usage: "show or hide failed execs (yes|no)"},
			&cli.StringFlag{Name: "signal-sends", Usage: "show or hide sent signals (yes|no)"},
			&cli.StringFlag{Name: "merge-execs", Usage: "merge retried execs of the same program (yes|no)"},
			&cli.IntFlag{Name: "lane-width", Value: opts.Diagram.LaneWidth, Usage: "set the diagram lane width"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Destination: &verbose, Usage: "shows more information than usual"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Destination: &debug, Usage: "shows debugging log messages"},
			&cli.BoolFlag{Name: "no-log", Aliases: []string{"l"}, Destination: &noLog, Usage: "hides routine log messages"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("no-colour") {
				screen.SetColourEnabled(false)
			}
			configureLogging(verbose, debug, noLog)

			if c.IsSet("status") {
				fmt.Println(system.DiagnoseWaitStatus(unix.WaitStatus(c.Int("status"))))
				return nil
			}
			if c.IsSet("syscall") {
				num := c.Int("syscall")
				fmt.Printf("%s (%d args)\n", system.SyscallName(num), system.SyscallArgCount(num))
				return nil
			}

			opts.Reaper = !c.Bool("no-reaper")
			opts.ScrollView = c.Bool("scroll-view")
			opts.Diagram.LaneWidth = c.Int("lane-width")
			for flag, dest := range map[string]*bool{
				"non-fatal":    &opts.Diagram.ShowNonFatalSignals,
				"execs":        &opts.Diagram.ShowExecs,
				"bad-execs":    &opts.Diagram.ShowFailedExecs,
				"signal-sends": &opts.Diagram.ShowSignalSends,
				"merge-execs":  &opts.MergeExecs,
			} {
				if c.IsSet(flag) {
					val, err := parseBool(c.String(flag))
					if err != nil {
						return cli.Exit(fmt.Sprintf("--%s: %v", flag, err), 1)
					}
					*dest = val
				}
			}
			proctree.SetExecMergingEnabled(opts.MergeExecs)

			return runForktrace(c.Args().Slice(), opts)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "forktrace: %v\n", err)
		return 1
	}
	return 0
}
