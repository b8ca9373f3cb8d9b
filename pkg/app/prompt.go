package app

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/google/shlex"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/screen"
)

// promptCommand is one prompt command. Names are matched by unambiguous
// prefix, so `ma` marches and `t` complains about tree/trees.
type promptCommand struct {
	name       string
	params     string
	help       string
	autoRepeat bool // hitting enter on an empty line repeats this command
	handler    func(s *session, args []string) error
}

type repl struct {
	sess *session
	cmds []promptCommand
	last string // last auto-repeatable command line
}

// commandLine runs the interactive prompt until the user quits. Orphan
// notifications are collected between commands so list/tree stay accurate
// even while no step is running.
func commandLine(s *session) error {
	r := &repl{sess: s}
	r.cmds = r.commands()

	p := prompt.New(
		r.execute,
		r.complete,
		prompt.OptionTitle("forktrace: interactive prompt"),
		prompt.OptionPrefix("(ft) "),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlD,
			Fn:  func(*prompt.Buffer) { r.quit(true) },
		}),
	)
	p.Run()
	return nil
}

func (r *repl) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		if r.last == "" {
			return
		}
		line = r.last
	}

	fields, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	if len(fields) == 0 {
		return
	}

	cmd := r.match(fields[0])
	if cmd == nil {
		return
	}
	if cmd.autoRepeat {
		r.last = line
	} else {
		r.last = ""
	}

	if err := cmd.handler(r.sess, fields[1:]); err != nil {
		switch err.(type) {
		case *fterrors.ParseError:
			fmt.Fprintf(os.Stderr, "%v\n", err)
		default:
			log.Errorf("%v", err)
		}
	}
	if err := r.sess.tracer.CheckOrphans(); err != nil {
		log.Errorf("%v", err)
	}
}

// match resolves a (possibly abbreviated) command name. Exact matches win;
// an ambiguous prefix lists the alternatives.
func (r *repl) match(name string) *promptCommand {
	var candidates []*promptCommand
	for i := range r.cmds {
		if r.cmds[i].name == name {
			return &r.cmds[i]
		}
		if strings.HasPrefix(r.cmds[i].name, name) {
			candidates = append(candidates, &r.cmds[i])
		}
	}
	switch len(candidates) {
	case 0:
		fmt.Fprintf(os.Stderr, "unknown command %q (try help)\n", name)
		return nil
	case 1:
		return candidates[0]
	}
	var names []string
	for _, c := range candidates {
		names = append(names, c.name)
	}
	fmt.Fprintf(os.Stderr, "%q is ambiguous: %s\n", name, strings.Join(names, ", "))
	return nil
}

func (r *repl) complete(doc prompt.Document) []prompt.Suggest {
	if strings.Contains(doc.TextBeforeCursor(), " ") {
		return nil
	}
	var suggestions []prompt.Suggest
	for _, c := range r.cmds {
		suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return prompt.FilterHasPrefix(suggestions, doc.GetWordBeforeCursor(), true)
}

// quit confirms (when tracees are still alive) and exits the program.
func (r *repl) quit(dueToEOF bool) {
	if r.sess.tracer.TraceesAlive() {
		fmt.Fprintf(os.Stderr, "there are still tracees alive; quitting will kill them\n")
		line := prompt.Input("    are you sure? (y/N) ", func(prompt.Document) []prompt.Suggest { return nil })
		if line != "y" && line != "Y" {
			return
		}
	} else if dueToEOF {
		fmt.Fprintln(os.Stderr, "EOF")
	}
	os.Exit(0)
}

func (r *repl) commands() []promptCommand {
	cmds := []promptCommand{
		{name: "quit", help: "quit forktrace",
			handler: func(s *session, args []string) error {
				r.quit(false)
				return nil
			}},
		{name: "start", params: "PROGRAM [ARGS...]", help: "start a tracee program",
			handler: doStart},
		{name: "run", params: "PROGRAM [ARGS...]", help: "same as start, then go",
			handler: func(s *session, args []string) error {
				if err := doStart(s, args); err != nil {
					return err
				}
				return s.stepAll()
			}},
		{name: "march", help: "resume all tracees until they all stop again", autoRepeat: true,
			handler: func(s *session, args []string) error {
				return doMarch(s)
			}},
		{name: "next", help: "march, then draw the latest tree", autoRepeat: true,
			handler: func(s *session, args []string) error {
				if err := doMarch(s); err != nil {
					return err
				}
				if len(s.trees) == 0 {
					return nil
				}
				s.drawTree(s.trees[len(s.trees)-1], false)
				return nil
			}},
		{name: "go", help: "resume all tracees until they all end",
			handler: func(s *session, args []string) error {
				return s.stepAll()
			}},
		{name: "list", help: "print a list of all tracees",
			handler: doList},
		{name: "tree", params: "[TREE]", help: "debug output for a process tree, or all if none given",
			handler: doTree},
		{name: "trees", help: "print a list of all the process trees",
			handler: doTrees},
		{name: "draw", params: "[TREE]", help: "draw a process tree's diagram",
			handler: func(s *session, args []string) error {
				return doDraw(s, args, false)
			}},
		{name: "view", params: "[TREE]", help: "draw a diagram in the scroll viewer",
			handler: func(s *session, args []string) error {
				return doDraw(s, args, true)
			}},
		{name: "help", help: "list the available commands",
			handler: func(s *session, args []string) error {
				return r.doHelp()
			}},
	}
	cmds = append(cmds, toggleCommands()...)
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	return cmds
}

// toggleCommands mirrors the CLI display flags as prompt commands.
func toggleCommands() []promptCommand {
	boolToggle := func(name, help string, set func(s *session, v bool)) promptCommand {
		return promptCommand{name: name, params: "yes|no", help: help,
			handler: func(s *session, args []string) error {
				if len(args) != 1 {
					return fterrors.NewParseError("expected: %s yes|no", name)
				}
				v, err := parseBool(args[0])
				if err != nil {
					return err
				}
				set(s, v)
				return nil
			}}
	}
	return []promptCommand{
		boolToggle("colour", "enable/disable colour", func(s *session, v bool) {
			screen.SetColourEnabled(v)
		}),
		boolToggle("verbose", "enable/disable extra log messages", func(s *session, v bool) {
			if v {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		}),
		boolToggle("debug", "enable/disable debug messages", func(s *session, v bool) {
			if v {
				log.SetLevel(log.TraceLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		}),
		boolToggle("non-fatal", "show or hide non-fatal signals", func(s *session, v bool) {
			s.opts.Diagram.ShowNonFatalSignals = v
		}),
		boolToggle("execs", "show or hide successful execs", func(s *session, v bool) {
			s.opts.Diagram.ShowExecs = v
		}),
		boolToggle("bad-execs", "show or hide failed execs", func(s *session, v bool) {
			s.opts.Diagram.ShowFailedExecs = v
		}),
		boolToggle("signal-sends", "show or hide sent signals", func(s *session, v bool) {
			s.opts.Diagram.ShowSignalSends = v
		}),
		boolToggle("merge-execs", "merge retried execs of the same program", func(s *session, v bool) {
			s.opts.MergeExecs = v
			proctree.SetExecMergingEnabled(v)
		}),
		{name: "lane-width", params: "WIDTH", help: "set the diagram lane width",
			handler: func(s *session, args []string) error {
				if len(args) != 1 {
					return fterrors.NewParseError("expected: lane-width WIDTH")
				}
				n, err := parseNumber(args[0])
				if err != nil {
					return err
				}
				if n < 2 {
					return fterrors.NewParseError("lane width must be at least 2")
				}
				s.opts.Diagram.LaneWidth = n
				return nil
			}},
	}
}

func doStart(s *session, args []string) error {
	if len(args) == 0 {
		return fterrors.NewParseError("expected: start PROGRAM [ARGS...]")
	}
	root, err := s.tracer.Start(args[0], args)
	if err != nil {
		return err
	}
	s.trees = append(s.trees, root)
	return nil
}

func doMarch(s *session) error {
	if !s.tracer.TraceesAlive() {
		fmt.Fprintln(os.Stderr, "there are no active tracees")
	}
	_, err := s.tracer.Step()
	return err
}

func doList(s *session, args []string) error {
	infos := s.tracer.Tracees()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Pid < infos[j].Pid })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stderr)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"PID", "STATE", "COMMAND"})
	for _, info := range infos {
		t.AppendRow(table.Row{info.Pid, info.State, info.CommandLine})
	}
	t.AppendFooter(table.Row{"", "total", len(infos)})
	t.Render()
	return nil
}

func treeIndex(s *session, args []string) (int, error) {
	if len(args) > 1 {
		return 0, fterrors.NewParseError("expected no more than one argument")
	}
	if len(s.trees) == 0 {
		return 0, fterrors.NewParseError("there are no process trees yet")
	}
	if len(args) == 0 {
		return len(s.trees) - 1, nil
	}
	n, err := parseNumber(args[0])
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= len(s.trees) {
		return 0, fterrors.NewParseError("out-of-bounds process tree index")
	}
	return n, nil
}

func doTree(s *session, args []string) error {
	if len(args) == 0 {
		if len(s.trees) == 0 {
			fmt.Fprintln(os.Stderr, "there are no process trees yet")
			return nil
		}
		for i, tree := range s.trees {
			fmt.Fprintf(os.Stderr, "process tree %d:\n", i)
			tree.PrintTree(os.Stderr, 0)
		}
		return nil
	}
	i, err := treeIndex(s, args)
	if err != nil {
		return err
	}
	s.trees[i].PrintTree(os.Stderr, 0)
	return nil
}

func doTrees(s *session, args []string) error {
	if len(s.trees) == 0 {
		fmt.Fprintln(os.Stderr, "there are no process trees yet")
		return nil
	}
	for i, tree := range s.trees {
		fmt.Fprintf(os.Stderr, "%d: %s\n", i, tree.String())
	}
	return nil
}

func doDraw(s *session, args []string, scroll bool) error {
	i, err := treeIndex(s, args)
	if err != nil {
		return err
	}
	s.drawTree(s.trees[i], scroll)
	return nil
}

func (r *repl) doHelp() error {
	for _, c := range r.cmds {
		name := c.name
		if c.params != "" {
			name += " " + c.params
		}
		fmt.Fprintf(os.Stderr, "  %-28s %s\n", name, c.help)
	}
	return nil
}
