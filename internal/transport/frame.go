package transport

import "time"

// FrameKind distinguishes payload frames from liveness signals.
type FrameKind int

const (
	// FrameData carries a text payload from the device.
	FrameData FrameKind = iota
	// FrameHeartbeat is produced for each pong answering our ping.
	FrameHeartbeat
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Frame is one inbound unit from the connection.
type Frame struct {
	Kind FrameKind
	Data []byte
	At   time.Time
}
