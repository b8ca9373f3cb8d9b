package tracer

import (
	"math"
	"testing"

	"golang.org/x/sys/unix"
)

func TestToWait4ID(t *testing.T) {
	tt := []struct {
		idtype   int
		id       int
		expected int
	}{
		{unix.P_ALL, 0, -1},
		{unix.P_ALL, 12345, -1},
		{unix.P_PID, 42, 42},
		{unix.P_PGID, 42, -42},
		{unix.P_PIDFD, 3, math.MaxInt32}, // unsupported idtype fails with EINVAL later
		{99, 7, math.MaxInt32},
	}
	for _, test := range tt {
		if got := toWait4ID(test.idtype, test.id); got != test.expected {
			t.Errorf("toWait4ID(%d, %d) = %d, want %d",
				test.idtype, test.id, got, test.expected)
		}
	}
}

func TestNewWait4CallFlags(t *testing.T) {
	call := newWait4Call(-1, 0, unix.WNOHANG)
	if !call.nohang {
		t.Error("WNOHANG not picked up")
	}
	if call.resultAddr != 0 {
		t.Error("NULL status pointer should leave resultAddr zero")
	}
	if call.argIndex != 1 || call.resultSize != 4 || call.zeroResult {
		t.Error("wait4 result parameters are wrong")
	}

	call = newWait4Call(101, 0xdeadbeef, 0)
	if call.nohang {
		t.Error("nohang set without WNOHANG")
	}
	if call.resultAddr != 0xdeadbeef {
		t.Error("tracee-supplied status pointer not kept")
	}
}

func TestNewWaitIDCallParameters(t *testing.T) {
	call := newWaitIDCall(unix.P_PGID, 5, 0, unix.WNOHANG|unix.WEXITED)
	if call.waitedID != -5 {
		t.Errorf("waitedID = %d, want -5", call.waitedID)
	}
	if !call.nohang {
		t.Error("WNOHANG not picked up")
	}
	if call.argIndex != 2 || call.resultSize != siginfoSize || !call.zeroResult {
		t.Error("waitid result parameters are wrong")
	}
}

func TestEscaped(t *testing.T) {
	tt := []struct {
		in       string
		expected string
	}{
		{"/bin/true", "/bin/true"},
		{"with space", "with space"},
		{"tab\there", "tab\\there"},
		{"line\nbreak", "line\\nbreak"},
		{"back\\slash", "back\\\\slash"},
		{"\x01\xff", "\\x01\\xff"},
	}
	for _, test := range tt {
		if got := escaped(test.in); got != test.expected {
			t.Errorf("escaped(%q) = %q, want %q", test.in, got, test.expected)
		}
	}
}
