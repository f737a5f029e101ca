package repository

// Key schema shared by both store implementations
const (
	KeyBans           = "bans"
	KeySessions       = "sessions"
	KeyLogs           = "logs"
	KeyScriptCache    = "script_cache"
	KeyStatsSuccess   = "stats:success"
	KeyStatsChallenge = "stats:challenges"
	KeyStatsBans      = "stats:bans"

	PrefixChallenge = "challenge:"
	PrefixSuspend   = "suspend:"
	PrefixWhitelist = "whitelist:"
	PrefixFailures  = "failed_attempts:"
)

// ChallengeKey returns the key of a challenge
func ChallengeKey(id string) string {
	return PrefixChallenge + id
}

// SuspendKey returns the key of a suspension
func SuspendKey(kind, value string) string {
	return PrefixSuspend + kind + ":" + value
}

// WhitelistKey returns the set key for a whitelist type
func WhitelistKey(kind string) string {
	return PrefixWhitelist + kind
}

// FailureKey returns the abuse counter key of a network address
func FailureKey(address string) string {
	return PrefixFailures + address
}
