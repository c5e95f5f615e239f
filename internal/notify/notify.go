// Package notify surfaces a session's terminal status (Complete,
// Failed, Cancelled) to the operator outside the event stream: a
// desktop toast on Windows, a terminal title flash everywhere else.
// Grounded in the teacher's internal/notifications/toast.go and
// terminal.go, generalized from supervisor-needs-input alerts to
// session-completion notifications.
package notify

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/go-toast/toast"
)

// Notifier surfaces one human-facing notification per call.
type Notifier interface {
	NotifySessionDone(sessionID, status, summary string) error
}

// Toast notifies via a Windows desktop toast. On any other OS,
// NotifySessionDone is a no-op returning nil rather than an error —
// absence of toast support is not a session failure.
type Toast struct {
	appID        string
	dashboardURL string
}

// NewToast creates a Toast notifier. dashboardURL is opened when the
// toast's action is clicked; it may be empty.
func NewToast(appID, dashboardURL string) *Toast {
	if appID == "" {
		appID = "swarmd"
	}
	return &Toast{appID: appID, dashboardURL: dashboardURL}
}

func (t *Toast) NotifySessionDone(sessionID, status, summary string) error {
	if runtime.GOOS != "windows" {
		return nil
	}
	n := toast.Notification{
		AppID:   t.appID,
		Title:   fmt.Sprintf("Session %s: %s", sessionID, status),
		Message: summary,
		Audio:   toast.Default,
	}
	if t.dashboardURL != "" {
		n.Actions = []toast.Action{{Type: "protocol", Label: "Open Dashboard", Arguments: t.dashboardURL}}
	}
	return n.Push()
}

// Terminal notifies by setting the terminal window title; the title
// stays set until Clear is called. Works on Windows, Linux, and macOS
// terminals that honor the OSC 0 escape sequence; a no-op elsewhere.
type Terminal struct {
	mu            sync.Mutex
	originalTitle string
}

// NewTerminal creates a Terminal notifier that restores title on clear.
func NewTerminal(originalTitle string) *Terminal {
	if originalTitle == "" {
		originalTitle = "swarmd"
	}
	return &Terminal{originalTitle: originalTitle}
}

func (t *Terminal) NotifySessionDone(sessionID, status, summary string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTerminal() {
		return nil
	}
	switch runtime.GOOS {
	case "windows", "linux", "darwin":
		fmt.Printf("\033]0;swarmd: %s %s\007", sessionID, status)
		return nil
	default:
		return nil
	}
}

// Clear restores the terminal's original title.
func (t *Terminal) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Printf("\033]0;%s\007", t.originalTitle)
	return nil
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Multi fans a notification out to every underlying Notifier, returning
// the first error (if any) after attempting all of them.
type Multi struct {
	Notifiers []Notifier
}

func (m Multi) NotifySessionDone(sessionID, status, summary string) error {
	var firstErr error
	for _, n := range m.Notifiers {
		if err := n.NotifySessionDone(sessionID, status, summary); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
