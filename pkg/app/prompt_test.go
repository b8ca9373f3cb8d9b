package app

import (
	"testing"
)

func TestCommandPrefixMatching(t *testing.T) {
	r := &repl{cmds: []promptCommand{
		{name: "march"},
		{name: "merge-execs"},
		{name: "tree"},
		{name: "trees"},
		{name: "quit"},
	}}

	if cmd := r.match("q"); cmd == nil || cmd.name != "quit" {
		t.Error("unambiguous prefix should resolve")
	}
	if cmd := r.match("tree"); cmd == nil || cmd.name != "tree" {
		t.Error("an exact match must win over a longer candidate")
	}
	if cmd := r.match("t"); cmd != nil {
		t.Errorf("ambiguous prefix resolved to %q", cmd.name)
	}
	if cmd := r.match("m"); cmd != nil {
		t.Errorf("ambiguous prefix resolved to %q", cmd.name)
	}
	if cmd := r.match("ma"); cmd == nil || cmd.name != "march" {
		t.Error("two-letter prefix should resolve march")
	}
	if cmd := r.match("bogus"); cmd != nil {
		t.Error("unknown command matched")
	}
}

func TestCommandTableIsWellFormed(t *testing.T) {
	r := &repl{sess: &session{opts: defaultOptions()}}
	cmds := r.commands()

	seen := map[string]bool{}
	for _, c := range cmds {
		if c.name == "" || c.help == "" {
			t.Errorf("command %+v is missing a name or help text", c)
		}
		if seen[c.name] {
			t.Errorf("duplicate command %q", c.name)
		}
		seen[c.name] = true
	}
	for _, want := range []string{
		"quit", "start", "run", "march", "next", "go", "list", "tree",
		"trees", "draw", "view", "colour", "verbose", "debug", "non-fatal",
		"execs", "bad-execs", "signal-sends", "merge-execs", "lane-width",
	} {
		if !seen[want] {
			t.Errorf("command %q is missing", want)
		}
	}
}
