package domain

import "time"

// EventType represents the type of notification event
type EventType string

const (
	EventExecution          EventType = "execution"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventBanIssued          EventType = "ban_issued"
	EventServerStart        EventType = "server_start"
)

// Event is a fire-and-forget notification
type Event struct {
	Type      EventType `json:"type"`
	Identity  Identity  `json:"identity"`
	ToolName  string    `json:"tool,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	BanID     string    `json:"banId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Executor  string    `json:"executor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessLog is one entry of the admin-visible access log
type AccessLog struct {
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Identity  Identity  `json:"identity"`
	UserAgent string    `json:"ua,omitempty"`
	Client    string    `json:"client,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Access log actions
const (
	ActionBlockedIP       = "BLOCKED_IP"
	ActionBlockedBot      = "BLOCKED_BOT"
	ActionLoaderFetch     = "LOADER_FETCH"
	ActionChallengeBot    = "CHALLENGE_BOT"
	ActionChallengeInit   = "CHALLENGE_INIT"
	ActionChallengeDenied = "CHALLENGE_DENIED"
	ActionVerifyFail      = "VERIFY_FAIL"
	ActionVerifySuccess   = "VERIFY_SUCCESS"
	ActionSuspicious      = "SUSPICIOUS"
	ActionBanAdded        = "BAN_ADDED"
)

// Stats are the pipeline counters
type Stats struct {
	Success    int64 `json:"success"`
	Challenges int64 `json:"challenges"`
	Bans       int64 `json:"bans"`
}
