package debug

import (
	"fmt"
	"os"
)

// The TUI owns the terminal, so diagnostics go to a file instead of stdout.
var Enabled = os.Getenv("DRIFTMSG_DEBUG") != ""

// Log writes to driftmsg.log only if debug mode is enabled
func Log(format string, args ...interface{}) {
	if !Enabled {
		return
	}
	f, err := os.OpenFile("driftmsg.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, format+"\n", args...)
}
