package process

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalNumber(t *testing.T) {
	for _, name := range []string{"INT", "SIGINT", "int", "sigint", "2"} {
		sig, ok := SignalNumber(name)
		assert.True(t, ok, name)
		assert.Equal(t, syscall.SIGINT, sig, name)
	}
	for _, name := range []string{"", "NOPE", "SIGNOPE", "999", "-1"} {
		_, ok := SignalNumber(name)
		assert.False(t, ok, name)
	}
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", SignalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", SignalName(syscall.SIGTERM))
	assert.Equal(t, "SIGABRT", SignalName(syscall.SIGABRT))
	assert.Equal(t, "SIG999", SignalName(syscall.Signal(999)))
}

func TestSignals(t *testing.T) {
	xs := Signals()
	assert.Contains(t, xs, syscall.SIGHUP)
	assert.Contains(t, xs, syscall.SIGKILL)
	for i := 1; i < len(xs); i++ {
		assert.Less(t, int(xs[i-1]), int(xs[i]))
	}
}

func TestInjectTrapped(t *testing.T) {
	s := &SignalSafe{
		wake:    make(chan struct{}, 1),
		trapped: map[syscall.Signal]bool{syscall.SIGUSR1: true},
	}
	s.Inject(syscall.SIGUSR1)
	s.Inject(syscall.SIGINT)

	select {
	case <-s.Wake():
	default:
		t.Fatal("Expected a wakeup")
	}
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR1}, s.TakePendingSignals())
	assert.Empty(t, s.TakePendingSignals())
	assert.True(t, s.PollUntrappedSigInt())
	assert.False(t, s.PollUntrappedSigInt())
	assert.Equal(t, syscall.SIGINT, s.LastSignal())
}

func TestSubshellSignals(t *testing.T) {
	s := NewSubshellSignals([]syscall.Signal{syscall.SIGHUP})
	defer s.Stop()
	assert.Equal(t, []syscall.Signal{syscall.SIGHUP}, s.Ignored())

	s.Inject(syscall.SIGHUP)
	assert.Zero(t, s.FatalSignal())

	s.Inject(syscall.SIGCHLD)
	assert.Zero(t, s.FatalSignal())

	s.Register(syscall.SIGUSR1)
	s.Inject(syscall.SIGUSR1)
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR1}, s.TakePendingSignals())
	assert.Zero(t, s.FatalSignal())

	s.Inject(syscall.SIGTERM)
	assert.Equal(t, syscall.SIGTERM, s.FatalSignal())
}

func TestIgnoreThenTrap(t *testing.T) {
	s := NewSubshellSignals(nil)
	s.Ignore(syscall.SIGUSR2)
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR2}, s.Ignored())

	s.Register(syscall.SIGUSR2)
	assert.Empty(t, s.Ignored())
	s.Inject(syscall.SIGUSR2)
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR2}, s.TakePendingSignals())

	s.Unregister(syscall.SIGUSR2)
	s.Inject(syscall.SIGUSR2)
	assert.Empty(t, s.TakePendingSignals())
	assert.Equal(t, syscall.SIGUSR2, s.FatalSignal())
}
