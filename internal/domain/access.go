package domain

import (
	"fmt"
	"time"
)

// BanSource tells how a ban was created
type BanSource string

const (
	BanSourceManual BanSource = "manual"
	BanSourceAuto   BanSource = "auto"
	BanSourceShim   BanSource = "shim"
)

// BanRecord is stored once per banned key. Keys sharing one ban action share the BanID.
type BanRecord struct {
	Key            string    `json:"key"`
	BanID          string    `json:"banId"`
	Reason         string    `json:"reason"`
	Source         BanSource `json:"source"`
	DeviceID       string    `json:"hwid,omitempty"`
	IdentityID     string    `json:"playerId,omitempty"`
	NetworkAddress string    `json:"ip,omitempty"`
	CreatedAt      time.Time `json:"ts"`
}

// BanRequest describes one ban action over any subset of the identity keys
type BanRequest struct {
	DeviceID       string
	IdentityID     string
	NetworkAddress string
	Reason         string
	Source         BanSource
}

// Keys returns the non-empty keys of the request
func (b BanRequest) Keys() []string {
	return nonEmpty(b.DeviceID, b.NetworkAddress, b.IdentityID)
}

// BlockResult is the outcome of a ban lookup
type BlockResult struct {
	Blocked bool
	Reason  string
	BanID   string
}

// SuspendType is the key space a suspension applies to
type SuspendType string

const (
	SuspendDevice   SuspendType = "hwid"
	SuspendIdentity SuspendType = "userId"
	SuspendSession  SuspendType = "session"
)

// ParseSuspendType validates a suspend type name
func ParseSuspendType(s string) (SuspendType, error) {
	switch SuspendType(s) {
	case SuspendDevice, SuspendIdentity, SuspendSession:
		return SuspendType(s), nil
	}
	return "", fmt.Errorf("%w: suspend type %q", ErrInvalidRequest, s)
}

// MaxSuspendDuration caps timed suspensions
const MaxSuspendDuration = 10 * 365 * 24 * time.Hour

// SuspendDuration converts a length in seconds. Zero or less means permanent.
func SuspendDuration(secs int64) (time.Duration, error) {
	if secs <= 0 {
		return 0, nil
	}
	if secs > int64(MaxSuspendDuration/time.Second) {
		return 0, fmt.Errorf("%w: suspend duration %ds exceeds %s", ErrInvalidRequest, secs, MaxSuspendDuration)
	}
	return time.Duration(secs) * time.Second, nil
}

// SuspendRecord is a possibly time-limited suspension. A nil ExpiresAt is permanent.
type SuspendRecord struct {
	Type      SuspendType `json:"type"`
	Value     string      `json:"value"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"suspendedAt"`
	ExpiresAt *time.Time  `json:"expiresAt"`
}

// Expired reports whether the record has lapsed at now
func (s *SuspendRecord) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// SuspendResult is the outcome of a suspension lookup
type SuspendResult struct {
	Suspended bool
	Type      SuspendType
	Reason    string
}

// WhitelistType is the key space of a whitelist entry
type WhitelistType string

const (
	WhitelistDevice   WhitelistType = "hwid"
	WhitelistIdentity WhitelistType = "userId"
	WhitelistNetwork  WhitelistType = "ip"
)

// ParseWhitelistType validates a whitelist type name
func ParseWhitelistType(s string) (WhitelistType, error) {
	switch WhitelistType(s) {
	case WhitelistDevice, WhitelistIdentity, WhitelistNetwork:
		return WhitelistType(s), nil
	}
	return "", fmt.Errorf("%w: whitelist type %q", ErrInvalidRequest, s)
}

// Whitelist is a snapshot of static and dynamic whitelist members
type Whitelist struct {
	DeviceIDs        []string `json:"hwids"`
	IdentityIDs      []string `json:"userIds"`
	NetworkAddresses []string `json:"ips"`
}

// Decision is the combined registry verdict for one request
type Decision struct {
	Whitelisted bool
	Blocked     bool
	Reason      string
	BanID       string
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
