package app

import (
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/forktrace/forktrace/pkg/diagram"
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/reaper"
	"github.com/forktrace/forktrace/pkg/screen"
	"github.com/forktrace/forktrace/pkg/tracer"
	"github.com/forktrace/forktrace/pkg/util/errutil"
)

// session carries the state shared between instant mode and the prompt.
type session struct {
	tracer *tracer.Tracer
	opts   *Options
	trees  []*proctree.Process // root of each process tree
}

// runForktrace is the program after flag parsing: with a command it traces
// it from start to finish (instant mode), without one it starts the prompt.
func runForktrace(command []string, opts *Options) error {
	pipe, underReaper := reaper.UnderReaper()
	if opts.Reaper && !underReaper {
		// Re-exec ourselves as the reaper's child so orphaned zombies have
		// somewhere to go. We come back through here with the pipe on fd 3.
		if err := reaper.ReExecUnderReaper(); err != nil {
			log.Warnf("failed to start reaper (%v); carrying on without", err)
		}
	}

	sess := &session{tracer: tracer.New(), opts: opts}
	defer sess.tracer.Close()

	if underReaper {
		reaper.DieWithParent()
		defer pipe.Close()
		go reaper.Listen(pipe, sess.tracer.NotifyOrphan)
	}
	log.Infof("hello, I'm %d", os.Getpid())

	// SIGINT kills the tracees, not us: the user gets their prompt (or
	// their half-finished diagram) back.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			sess.tracer.Nuke()
		}
	}()

	if len(command) == 0 {
		log.Debug("no command provided; going into command line mode")
		return commandLine(sess)
	}
	return sess.runInstant(command)
}

func (s *session) runInstant(command []string) error {
	log.Infof("starting the command: %v", command)
	root, err := s.tracer.Start(command[0], command)
	if err != nil {
		return err
	}
	s.trees = append(s.trees, root)
	if err := s.stepAll(); err != nil {
		log.Errorf("got error during trace: %v", err)
	}
	for i, tree := range s.trees {
		s.displayDiagram(tree, fmt.Sprintf("process tree %d", i))
	}
	return nil
}

// stepAll resumes everything until no tracees remain.
func (s *session) stepAll() error {
	for {
		more, err := s.tracer.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// displayDiagram renders one process tree in instant mode, going through
// the scroll viewer when asked to (or when the diagram won't fit the
// terminal).
func (s *session) displayDiagram(root *proctree.Process, title string) {
	useScrollView := s.opts.ScrollView
	if !useScrollView {
		d := s.buildDiagram(root)
		if cols, rows, ok := screen.TerminalSize(); ok {
			useScrollView = d.Result().Width() > cols || d.Result().Height() > rows
		}
		if !useScrollView {
			s.showDiagram(d, title, false)
			return
		}
	}
	s.showDiagram(s.buildDiagram(root), title, true)
}

// drawTree is the prompt-side entry: print or scroll, as told.
func (s *session) drawTree(root *proctree.Process, scroll bool) {
	s.showDiagram(s.buildDiagram(root), root.String(), scroll)
}

func (s *session) buildDiagram(root *proctree.Process) *diagram.Diagram {
	proctree.SetExecMergingEnabled(s.opts.MergeExecs)
	return diagram.New(root, s.opts.Diagram)
}

func (s *session) showDiagram(d *diagram.Diagram, title string, scroll bool) {
	if scroll {
		status := fmt.Sprintf("%s | %d lanes, %d lines | q to quit",
			title, d.LaneCount(), d.LineCount())
		if err := screen.ScrollView(d.Result(), status); err != nil {
			log.Warnf("scroll view failed (%v); printing instead", err)
			scroll = false
		}
	}
	if !scroll {
		_, err := d.Result().WriteTo(os.Stdout)
		errutil.WarnOn(err)
	}
	if d.Truncated() {
		log.Warnf("parts of the diagram were truncated (try a larger --lane-width)")
	}
}
