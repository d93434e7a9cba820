package builtin

import "os/exec"

// true_ also serves ‘:’, whose arguments are expanded for their side
// effects and then ignored.
func true_(sh Shell, cmd *exec.Cmd) uint8 {
	return 0
}

func false_(sh Shell, cmd *exec.Cmd) uint8 {
	return 1
}
