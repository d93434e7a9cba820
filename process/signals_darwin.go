package process

import (
	"maps"
	"syscall"
)

func init() {
	maps.Copy(signals, map[string]syscall.Signal{
		"sigio":     syscall.SIGIO,
		"sigiot":    syscall.SIGIOT,
		"sigprof":   syscall.SIGPROF,
		"sigsys":    syscall.SIGSYS,
		"sigvtalrm": syscall.SIGVTALRM,
		"sigwinch":  syscall.SIGWINCH,
	})
}
