package domain

import "time"

// Session is opened after a successful verification and polled by the shim
type Session struct {
	ID         string    `json:"sessionId"`
	Identity   Identity  `json:"identity"`
	CreatedAt  time.Time `json:"created"`
	LastSeenAt time.Time `json:"lastSeen"`
}

// HeartbeatAction tells the shim whether to keep running
type HeartbeatAction string

const (
	ActionContinue  HeartbeatAction = "CONTINUE"
	ActionTerminate HeartbeatAction = "TERMINATE"
)

// HeartbeatResult is the answer to one heartbeat
type HeartbeatResult struct {
	Action HeartbeatAction `json:"action"`
	Reason string          `json:"reason,omitempty"`
}

// Continue builds a continue result
func Continue() HeartbeatResult {
	return HeartbeatResult{Action: ActionContinue}
}

// Terminate builds a terminate result
func Terminate(reason string) HeartbeatResult {
	return HeartbeatResult{Action: ActionTerminate, Reason: reason}
}
