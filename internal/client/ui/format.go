package ui

import (
	"fmt"
	"time"

	"github.com/driftlab/driftmsg/internal/client/state"
)

// sameSenderAsPrev reports whether message i continues the previous sender's
// run, in which case the sender header is suppressed.
func sameSenderAsPrev(msgs []state.Message, i int) bool {
	if i <= 0 || i >= len(msgs) {
		return false
	}
	return msgs[i].SenderID == msgs[i-1].SenderID
}

// timeSince renders a compact "time ago" label for conversation previews.
func timeSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
