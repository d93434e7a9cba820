package process

import (
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// SignalNumber looks up a signal by any of the names ‘kill’ and ‘trap’
// accept: ‘INT’, ‘SIGINT’, ‘int’ or ‘2’.
func SignalNumber(name string) (syscall.Signal, bool) {
	if n, err := strconv.Atoi(name); err == nil {
		for _, sig := range signals {
			if int(sig) == n {
				return sig, true
			}
		}
		return 0, false
	}
	s := strings.ToLower(name)
	if !strings.HasPrefix(s, "sig") {
		s = "sig" + s
	}
	sig, ok := signals[s]
	return sig, ok
}

// SignalName returns the conventional name of sig, such as ‘SIGINT’.
// Aliases like SIGIOT lose to the name that sorts first.
func SignalName(sig syscall.Signal) string {
	for _, name := range slices.Sorted(maps.Keys(signals)) {
		if signals[name] == sig {
			return strings.ToUpper(name)
		}
	}
	return "SIG" + strconv.Itoa(int(sig))
}

// Signals returns every known signal in numeric order.
func Signals() []syscall.Signal {
	var xs []syscall.Signal
	for _, sig := range signals {
		if !slices.Contains(xs, sig) {
			xs = append(xs, sig)
		}
	}
	slices.Sort(xs)
	return xs
}

// SignalSafe records signals as they arrive so that trap handlers run
// between commands instead of at arbitrary points.
type SignalSafe struct {
	mu        sync.Mutex
	c         chan os.Signal
	wake      chan struct{}
	trapped   map[syscall.Signal]bool
	ignored   map[syscall.Signal]bool
	pending   []syscall.Signal
	sigint    bool
	watchInt  bool
	last      syscall.Signal
	closeOnce sync.Once

	// A subshell running on a goroutine only receives signals through
	// Inject and never changes the dispositions of the process.
	virtual bool
	fatal   syscall.Signal
}

func NewSignalSafe() *SignalSafe {
	s := &SignalSafe{
		c:       make(chan os.Signal, 16),
		wake:    make(chan struct{}, 1),
		trapped: make(map[syscall.Signal]bool),
	}
	go func() {
		for sig := range s.c {
			if n, ok := sig.(syscall.Signal); ok {
				s.Inject(n)
			}
		}
	}()
	return s
}

// NewSubshellSignals returns the signal state of a subshell running on a
// goroutine.  ignored lists the signals the parent ignores, which the
// subshell keeps ignoring.
func NewSubshellSignals(ignored []syscall.Signal) *SignalSafe {
	s := &SignalSafe{
		wake:    make(chan struct{}, 1),
		trapped: make(map[syscall.Signal]bool),
		ignored: make(map[syscall.Signal]bool),
		virtual: true,
	}
	for _, sig := range ignored {
		s.ignored[sig] = true
	}
	return s
}

// WatchInterrupt keeps SIGINT from killing the shell.  An untrapped SIGINT is
// then reported by PollUntrappedSigInt.
func (s *SignalSafe) WatchInterrupt() {
	s.mu.Lock()
	s.watchInt = true
	s.mu.Unlock()
	signal.Notify(s.c, syscall.SIGINT)
}

// Register starts queueing sig for a trap handler.
func (s *SignalSafe) Register(sig syscall.Signal) {
	s.mu.Lock()
	s.trapped[sig] = true
	delete(s.ignored, sig)
	virtual := s.virtual
	s.mu.Unlock()
	if !virtual {
		signal.Notify(s.c, sig)
	}
}

// Unregister restores the default disposition of sig.
func (s *SignalSafe) Unregister(sig syscall.Signal) {
	s.mu.Lock()
	delete(s.trapped, sig)
	delete(s.ignored, sig)
	keep := sig == syscall.SIGINT && s.watchInt
	virtual := s.virtual
	s.mu.Unlock()
	switch {
	case virtual:
	case keep:
		signal.Notify(s.c, sig)
	default:
		signal.Reset(sig)
	}
}

// Ignore makes the shell and its children ignore sig, for an empty trap.
func (s *SignalSafe) Ignore(sig syscall.Signal) {
	s.mu.Lock()
	delete(s.trapped, sig)
	if s.ignored == nil {
		s.ignored = make(map[syscall.Signal]bool)
	}
	s.ignored[sig] = true
	virtual := s.virtual
	s.mu.Unlock()
	if !virtual {
		signal.Ignore(sig)
	}
}

// Ignored returns the signals ignored with an empty trap.
func (s *SignalSafe) Ignored() []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.ignored))
}

// Inject delivers sig as if the process had received it.  Subshells running
// on goroutines receive ‘kill’ this way.
func (s *SignalSafe) Inject(sig syscall.Signal) {
	s.mu.Lock()
	s.last = sig
	switch {
	case s.ignored[sig]:
	case s.trapped[sig]:
		s.pending = append(s.pending, sig)
	case sig == syscall.SIGINT:
		s.sigint = true
	case s.virtual && fatalByDefault(sig):
		s.fatal = sig
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// InjectTrapped injects sig if a trap handles it, and reports whether it
// did.  A trapped signal the shell sends itself must be queued before the
// next command runs, which delivery through signal.Notify doesn't ensure.
func (s *SignalSafe) InjectTrapped(sig syscall.Signal) bool {
	s.mu.Lock()
	ok := s.trapped[sig] && !s.virtual
	s.mu.Unlock()
	if ok {
		s.Inject(sig)
	}
	return ok
}

// Wake is signalled whenever a signal arrives.
func (s *SignalSafe) Wake() <-chan struct{} {
	return s.wake
}

// TakePendingSignals returns the trapped signals received since the last
// call, oldest first.
func (s *SignalSafe) TakePendingSignals() []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	xs := s.pending
	s.pending = nil
	return xs
}

// PollUntrappedSigInt reports and clears an untrapped SIGINT.
func (s *SignalSafe) PollUntrappedSigInt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.sigint
	s.sigint = false
	return b
}

// FatalSignal returns the untrapped signal that terminates a subshell, or 0.
func (s *SignalSafe) FatalSignal() syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func fatalByDefault(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGCHLD, syscall.SIGCONT, syscall.SIGURG, syscall.SIGWINCH,
		syscall.SIGSTOP, syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU:
		return false
	}
	return true
}

func (s *SignalSafe) LastSignal() syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop stops delivery to s.  Signals with no other listener go back to their
// default disposition.
func (s *SignalSafe) Stop() {
	s.closeOnce.Do(func() {
		if s.c == nil {
			return
		}
		signal.Stop(s.c)
		close(s.c)
	})
}
