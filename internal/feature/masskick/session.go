// Package masskick removes every non-exempt member of a group after an admin
// confirms the request.
package masskick

import (
	"errors"
	"time"
)

// State is the lifecycle position of a mass-kick session.
type State string

const (
	StateAwaiting State = "AWAITING_CONFIRMATION"
	StateRunning  State = "RUNNING"
	StateDone     State = "DONE"
)

var (
	// ErrNoSession is returned when no pending confirmation matches a key.
	ErrNoSession = errors.New("no pending kickall confirmation")
	// ErrSweepRunning is returned when a group already has a sweep in flight.
	ErrSweepRunning = errors.New("a kickall sweep is already running in this group")
	// ErrNotRequester is returned when an admin answers a prompt another admin
	// requested.
	ErrNotRequester = errors.New("kickall prompt belongs to another admin")
)

// Key identifies one confirmation prompt.
type Key struct {
	ChatID   int64
	AdminID  int64
	PromptID int
}

// Session is one kick-all request.
type Session struct {
	Key       Key
	State     State
	CreatedAt time.Time
	Kicked    int
	Failed    int
}
