package protocol

import (
	"time"

	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Event is one decoded inbound occurrence. The concrete types are
// StateUpdate, CommandEcho, Heartbeat and SubscriptionAck.
type Event interface {
	event()
}

// StateUpdate reports the current value of one leaf attribute.
type StateUpdate struct {
	Path  state.DevicePath
	Value state.Value
}

// CommandEcho is the device's result for one previously sent set.
type CommandEcho struct {
	Path       state.DevicePath
	OK         bool
	StatusID   int
	StatusInfo string
}

// Heartbeat marks liveness of the connection.
type Heartbeat struct {
	At time.Time
}

// SubscriptionAck is emitted once the first update under an expected root
// has been decoded.
type SubscriptionAck struct {
	Root state.DevicePath
}

func (StateUpdate) event()     {}
func (CommandEcho) event()     {}
func (Heartbeat) event()       {}
func (SubscriptionAck) event() {}
