package vm

import (
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
)

// runSignalTraps runs the handlers of the signals that arrived since it was
// last called.  Handlers don't nest.
func (v *Vm) runSignalTraps() {
	if v.inTraps {
		return
	}
	v.inTraps = true
	defer func() { v.inTraps = false }()

	for _, sig := range v.sigs.TakePendingSignals() {
		tr, ok := v.traps.Get(process.SignalName(sig))
		if !ok || tr.Node == nil {
			continue
		}
		if err := v.runTrap(tr); err != nil {
			if _, ok := err.(errExitCode); ok {
				v.trapErr = err
				return
			}
			v.diag.Fatal(err, "trap")
		}
	}
}

// runTrap runs a handler without disturbing $?.
func (v *Vm) runTrap(tr state.Trap) error {
	status := v.mem.LastStatus()
	running := v.opts.RunningTrap
	v.opts.RunningTrap = true
	defer func() {
		v.opts.RunningTrap = running
		v.mem.SetLastStatus(status)
	}()

	_, err := v.execStmts(tr.Node.Stmts)
	if err != nil && !isLoopControl(err) {
		if _, ok := err.(errReturn); !ok {
			return err
		}
	}
	return nil
}

// runHook runs the ERR, DEBUG or RETURN handler, unless it is the one
// running.
func (v *Vm) runHook(name string) error {
	if v.hooks[name] {
		return nil
	}
	tr, ok := v.traps.Get(name)
	if !ok || tr.Node == nil {
		return nil
	}
	v.hooks[name] = true
	defer delete(v.hooks, name)
	return v.runTrap(tr)
}

// RunExitTrap runs the EXIT handler once, before the shell exits with
// status.  An ‘exit’ in the handler changes the status.
func (v *Vm) RunExitTrap(status int) int {
	tr, ok := v.traps.Get("EXIT")
	if !ok || tr.Node == nil {
		return status
	}
	v.traps.Remove("EXIT")

	v.mem.SetLastStatus(status)
	err := v.runTrap(tr)
	switch e := err.(type) {
	case nil:
	case errExitCode:
		status = int(e)
	default:
		v.diag.Fatal(err, "trap")
	}
	return status
}
