package proctree

import (
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
	"github.com/forktrace/forktrace/pkg/system"
)

func init() {
	log.SetLevel(log.WarnLevel)
}

func exitStatus(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func killedBy(signal int) unix.WaitStatus {
	return unix.WaitStatus(signal)
}

func newTestRoot(pid int) *Process {
	return NewRootProcess(pid, "/bin/sh", []string{"/bin/sh"})
}

func TestEventLogFrozenAfterDeath(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifyEnded(exitStatus(0)))
	assert.Equal(t, StateZombie, p.State())

	err := p.NotifySignaled(1, int(unix.SIGUSR1))
	var treeErr *fterrors.ProcessTreeError
	require.ErrorAs(t, err, &treeErr)
	assert.Equal(t, 1, p.EventCount())
}

func TestForkChildBackReference(t *testing.T) {
	p := newTestRoot(100)
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))

	fork, ok := p.Event(0).(*ForkEvent)
	require.True(t, ok)
	assert.Same(t, c, fork.Child)
	assert.Same(t, p, c.Parent())
	assert.Equal(t, "/bin/sh [ /bin/sh ]", c.CommandLine(-1))
}

func TestChildInheritsMostRecentExec(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifyExec("/usr/bin/env", []string{"env", "FOO=1"}, 0))

	c := NewChildProcess(101, p)
	assert.Equal(t, "/usr/bin/env [ env FOO=1 ]", c.CommandLine(-1))
}

func TestWaitPromotedToReap(t *testing.T) {
	p := newTestRoot(100)
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c))

	require.Equal(t, 2, p.EventCount())
	reap, ok := p.Event(1).(*ReapEvent)
	require.True(t, ok, "the WaitEvent should have been replaced in place")
	assert.Same(t, c, reap.Child)
	assert.Equal(t, -1, reap.Wait.WaitedID)
	assert.Equal(t, StateReaped, c.State())
}

func TestReapRequiresZombie(t *testing.T) {
	p := newTestRoot(100)
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	require.NoError(t, p.NotifyWaiting(-1, false))

	err := p.NotifyReaped(c) // c is still alive
	var treeErr *fterrors.ProcessTreeError
	require.ErrorAs(t, err, &treeErr)
}

func TestOrphanRequiresZombie(t *testing.T) {
	p := newTestRoot(100)

	var treeErr *fterrors.ProcessTreeError
	require.ErrorAs(t, p.NotifyOrphaned(), &treeErr)

	require.NoError(t, p.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyOrphaned())
	assert.Equal(t, StateOrphaned, p.State())
	assert.True(t, p.Orphaned())
}

func TestSignalPromotedToKiller(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifySignaled(200, int(unix.SIGTERM)))
	require.NoError(t, p.NotifyEnded(killedBy(int(unix.SIGTERM))))

	require.Equal(t, 1, p.EventCount(), "the SignalEvent should be promoted, not duplicated")
	sig, ok := p.Event(0).(*SignalEvent)
	require.True(t, ok)
	assert.True(t, sig.Killed)
	assert.True(t, p.Killed())
	assert.Equal(t, StateZombie, p.State())
}

func TestKilledWithoutPriorSignalEvent(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifyEnded(killedBy(int(unix.SIGKILL))))

	sig, ok := p.DeathEvent().(*SignalEvent)
	require.True(t, ok)
	assert.True(t, sig.Killed)
	assert.True(t, p.Killed())
}

func TestKillPairSymmetry(t *testing.T) {
	a := newTestRoot(100)
	b := NewChildProcess(101, a)
	require.NoError(t, a.NotifyForked(b))
	require.NoError(t, NotifySentSignal(101, a, b, int(unix.SIGTERM), false))

	send, ok := a.Event(1).(*KillEvent)
	require.True(t, ok)
	recv, ok := b.Event(0).(*KillEvent)
	require.True(t, ok)

	assert.True(t, send.Sender)
	assert.False(t, recv.Sender)
	assert.Same(t, send.Info, recv.Info, "both ends must share one descriptor")
	assert.Equal(t, int(unix.SIGTERM), send.Info.Signal)
	assert.False(t, send.Info.ToThread)
	assert.Same(t, b, send.LinkedPath())
	assert.Same(t, a, recv.LinkedPath())
}

func TestKillPairInsertedBeforeDeathEvent(t *testing.T) {
	a := newTestRoot(100)
	b := NewChildProcess(101, a)
	require.NoError(t, a.NotifyForked(b))

	// SIGKILL lands synchronously: b's death is recorded before the
	// tracer learns the kill was a send between tracees.
	require.NoError(t, b.NotifyEnded(killedBy(int(unix.SIGKILL))))
	require.NoError(t, NotifySentSignal(101, a, b, int(unix.SIGKILL), false))

	require.Equal(t, 2, b.EventCount())
	_, ok := b.Event(0).(*KillEvent)
	assert.True(t, ok, "the receiver's KillEvent goes before its death event")
	_, ok = b.DeathEvent().(*SignalEvent)
	assert.True(t, ok)
}

func TestRaiseWhenTargetUnknown(t *testing.T) {
	a := newTestRoot(100)
	require.NoError(t, NotifySentSignal(555, a, nil, int(unix.SIGUSR2), true))

	raise, ok := a.Event(0).(*RaiseEvent)
	require.True(t, ok)
	assert.Equal(t, 555, raise.KilledID)
	assert.True(t, raise.ToThread)
}

func TestExecMerging(t *testing.T) {
	SetExecMergingEnabled(true)
	defer SetExecMergingEnabled(true)

	p := newTestRoot(100)
	args := []string{"true"}
	require.NoError(t, p.NotifyExec("/no/such/true", args, int(unix.ENOENT)))
	require.NoError(t, p.NotifyExec("/bin/true", args, 0))

	require.Equal(t, 1, p.EventCount(), "same basename and argv should merge")
	exec := p.Event(0).(*ExecEvent)
	require.Len(t, exec.Calls, 2)
	assert.Equal(t, "/no/such/true", exec.Calls[0].File)
	assert.Equal(t, int(unix.ENOENT), exec.Calls[0].Errcode)
	assert.Equal(t, "/bin/true", exec.Calls[1].File)
	assert.True(t, exec.Succeeded())
	assert.Equal(t, "/bin/true", exec.File())
}

func TestExecMergingDifferentBasename(t *testing.T) {
	SetExecMergingEnabled(true)
	defer SetExecMergingEnabled(true)

	p := newTestRoot(100)
	args := []string{"x"}
	require.NoError(t, p.NotifyExec("/no/such", args, int(unix.ENOENT)))
	require.NoError(t, p.NotifyExec("/bin/true", args, 0))

	assert.Equal(t, 2, p.EventCount(), "different basenames must not merge")
}

func TestExecMergingDisabled(t *testing.T) {
	SetExecMergingEnabled(false)
	defer SetExecMergingEnabled(true)

	p := newTestRoot(100)
	args := []string{"true"}
	require.NoError(t, p.NotifyExec("/no/such/true", args, int(unix.ENOENT)))
	require.NoError(t, p.NotifyExec("/bin/true", args, 0))

	assert.Equal(t, 2, p.EventCount())
}

func TestExecAfterSuccessNeverMerges(t *testing.T) {
	SetExecMergingEnabled(true)
	p := newTestRoot(100)
	args := []string{"true"}
	require.NoError(t, p.NotifyExec("/bin/true", args, 0))
	require.NoError(t, p.NotifyExec("/bin/true", args, 0))
	assert.Equal(t, 2, p.EventCount())
}

func TestInterruptedWaitMerges(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, p.NotifyFailedWait(system.ERESTARTSYS))
	require.NoError(t, p.NotifyWaiting(-1, false)) // the kernel's restart

	require.Equal(t, 1, p.EventCount(), "restarted wait must merge into one event")
	wait := p.Event(0).(*WaitEvent)
	assert.Equal(t, 0, wait.Err)
}

func TestInterruptedWaitDifferentParamsRejected(t *testing.T) {
	p := newTestRoot(100)
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, p.NotifyFailedWait(system.ERESTARTSYS))

	var treeErr *fterrors.ProcessTreeError
	require.ErrorAs(t, p.NotifyWaiting(101, false), &treeErr)
}

func TestSourceLocationConsumedByNextEvent(t *testing.T) {
	p := newTestRoot(100)
	p.UpdateLocation(SourceLocation{File: "main.c", Func: "main", Line: 42})
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))

	loc := p.Event(0).Location()
	require.NotNil(t, loc)
	assert.Equal(t, "main.c:main:42", loc.String())

	// A second fork gets no location: the slot was consumed.
	c2 := NewChildProcess(102, p)
	require.NoError(t, p.NotifyForked(c2))
	assert.Nil(t, p.Event(1).Location())
}

func TestReapStealsWaitLocation(t *testing.T) {
	p := newTestRoot(100)
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	p.UpdateLocation(SourceLocation{File: "main.c", Func: "main", Line: 50})
	require.NoError(t, p.NotifyWaiting(101, false))
	require.NoError(t, c.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c))

	loc := p.Event(1).Location()
	require.NotNil(t, loc)
	assert.EqualValues(t, 50, loc.Line)
}

func TestPrintTree(t *testing.T) {
	p := newTestRoot(100)
	c := NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	require.NoError(t, c.NotifyEnded(exitStatus(7)))

	var sb strings.Builder
	p.PrintTree(&sb, 0)
	out := sb.String()
	assert.Contains(t, out, "process 100")
	assert.Contains(t, out, "100 forked 101")
	assert.Contains(t, out, "101 exited 7")
}
