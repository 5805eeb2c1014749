// ABOUTME: Terminal rendering for session/update notifications
// ABOUTME: One line style per update kind, plain text uninterrupted for piping

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/2389/loom-gateway/internal/protocol"
)

func renderUpdate(u protocol.SessionUpdate) {
	switch u.Kind {
	case protocol.UpdatePlan:
		color.New(color.FgCyan).Fprintf(os.Stderr, "▸ %s\n", u.Text)
	case protocol.UpdateText:
		fmt.Print(u.Text)
	case protocol.UpdateToolUse:
		color.New(color.FgYellow).Fprintf(os.Stderr, "⚙ %s\n", u.Text)
	case protocol.UpdateDone:
		fmt.Println()
		color.New(color.FgGreen).Fprintln(os.Stderr, "✓ done")
	case protocol.UpdateCancelled:
		fmt.Println()
		color.New(color.FgYellow).Fprintln(os.Stderr, "✗ cancelled")
	case protocol.UpdateError:
		fmt.Println()
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", u.Text)
	default:
		color.New(color.FgHiBlack).Fprintf(os.Stderr, "%s: %s\n", u.Kind, u.Text)
	}
}

// renderNotification filters a raw notification stream down to one session.
func renderNotification(sessionID string, msg *protocol.Message) {
	if msg.Method != string(protocol.MethodSessionUpdate) {
		return
	}
	var params protocol.SessionUpdateParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	if params.SessionID != sessionID {
		return
	}
	renderUpdate(params.Update)
}
