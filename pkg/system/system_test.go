package system

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSyscallNames(t *testing.T) {
	tt := []struct {
		num  int
		name string
		args int
	}{
		{SyscallFork, "fork", 0},
		{SyscallClone, "clone", 5},
		{SyscallExecve, "execve", 3},
		{SyscallWait4, "wait4", 4},
		{SyscallWaitid, "waitid", 5},
		{SyscallKill, "kill", 2},
		{SyscallTgkill, "tgkill", 3},
		{SyscallExecveat, "execveat", 5},
		{SyscallFake, "forktrace_location", 3},
		{SyscallNone, "?????", -1},
		{9999, "?????", -1},
	}
	for _, test := range tt {
		if got := SyscallName(test.num); got != test.name {
			t.Errorf("SyscallName(%d) = %q, want %q", test.num, got, test.name)
		}
		if got := SyscallArgCount(test.num); got != test.args {
			t.Errorf("SyscallArgCount(%d) = %d, want %d", test.num, got, test.args)
		}
	}
}

func TestSignalName(t *testing.T) {
	if got := SignalName(int(unix.SIGKILL)); got != "SIGKILL" {
		t.Errorf("SignalName(SIGKILL) = %q", got)
	}
	if got := SignalName(4242); got != "?????" {
		t.Errorf("SignalName(4242) = %q", got)
	}
}

func TestErrnoString(t *testing.T) {
	if got := ErrnoString(ERESTARTSYS); !strings.Contains(got, "ERESTARTSYS") {
		t.Errorf("ErrnoString(ERESTARTSYS) = %q", got)
	}
	if got := ErrnoString(ERESTARTNOINTR); !strings.Contains(got, "ERESTARTNOINTR") {
		t.Errorf("ErrnoString(ERESTARTNOINTR) = %q", got)
	}
	if got := ErrnoString(int(unix.ENOENT)); got == "" {
		t.Error("ErrnoString(ENOENT) is empty")
	}
}

func TestWaitStatusClassification(t *testing.T) {
	const sigtrap = int(unix.SIGTRAP)

	exited := unix.WaitStatus(3 << 8)
	if !exited.Exited() || IsSyscallStop(exited) {
		t.Error("exit status misclassified")
	}

	killed := unix.WaitStatus(int(unix.SIGTERM))
	if !killed.Signaled() {
		t.Error("killed status misclassified")
	}

	syscallStop := unix.WaitStatus(0x7f | (sigtrap|0x80)<<8)
	if !IsSyscallStop(syscallStop) {
		t.Error("syscall-stop not recognized")
	}
	if IsForkEvent(syscallStop) || IsExecEvent(syscallStop) {
		t.Error("syscall-stop misread as a ptrace event")
	}

	forkEvent := unix.WaitStatus(0x7f | (sigtrap|unix.PTRACE_EVENT_FORK<<8)<<8)
	if !IsForkEvent(forkEvent) {
		t.Error("fork event not recognized")
	}
	if IsSyscallStop(forkEvent) {
		t.Error("fork event misread as syscall-stop")
	}

	execEvent := unix.WaitStatus(0x7f | (sigtrap|unix.PTRACE_EVENT_EXEC<<8)<<8)
	if !IsExecEvent(execEvent) {
		t.Error("exec event not recognized")
	}

	plainStop := unix.WaitStatus(0x7f | int(unix.SIGUSR1)<<8)
	if IsSyscallStop(plainStop) || IsForkEvent(plainStop) {
		t.Error("signal-delivery-stop misclassified")
	}
	if !plainStop.Stopped() {
		t.Error("signal-delivery-stop should report Stopped")
	}
}

func TestDiagnoseWaitStatus(t *testing.T) {
	tt := []struct {
		status unix.WaitStatus
		expect string
	}{
		{unix.WaitStatus(5 << 8), "exited with status 5"},
		{unix.WaitStatus(int(unix.SIGKILL)), "SIGKILL"},
		{unix.WaitStatus(0x7f | (int(unix.SIGTRAP)|0x80)<<8), "syscall-stop"},
		{unix.WaitStatus(0x7f | (int(unix.SIGTRAP)|unix.PTRACE_EVENT_FORK<<8)<<8), "fork event"},
		{unix.WaitStatus(0x7f | int(unix.SIGSTOP)<<8), "SIGSTOP"},
	}
	for _, test := range tt {
		got := DiagnoseWaitStatus(test.status)
		if !strings.Contains(got, test.expect) {
			t.Errorf("DiagnoseWaitStatus(0x%x) = %q, want it to mention %q",
				int(test.status), got, test.expect)
		}
	}
}

func TestCloneLikeAFork(t *testing.T) {
	var args [SyscallArgMax]uint64

	args[0] = uint64(unix.SIGCHLD)
	if !CloneLikeAFork(args) {
		t.Error("plain fork-style clone flags not recognized")
	}

	args[0] = uint64(unix.CLONE_VM | unix.CLONE_THREAD | unix.CLONE_SIGHAND)
	if CloneLikeAFork(args) {
		t.Error("thread-style clone flags misread as a fork")
	}
}
