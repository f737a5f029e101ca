package domain

import "errors"

// Pipeline errors. Callers map them to responses; none of them is fatal.
var (
	// ErrRejected is the generic denial. It never says why.
	ErrRejected = errors.New("access denied")

	ErrChallengeExpired = errors.New("challenge expired")
	ErrAddressMismatch  = errors.New("address mismatch")
	ErrWrongAnswer      = errors.New("wrong solution")

	ErrUnavailable        = errors.New("service temporarily unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrSessionNotFound    = errors.New("session not found")
	ErrPayloadUnavailable = errors.New("payload not configured")
	ErrStaticWhitelist    = errors.New("static whitelist entries cannot be removed")
)

// RejectionError carries the internal reason of a denial for logging.
// It matches ErrRejected with errors.Is.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "access denied: " + e.Reason
}

// Is makes errors.Is(err, ErrRejected) true
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Reject builds a RejectionError
func Reject(reason string) error {
	return &RejectionError{Reason: reason}
}

// RejectionReason extracts the internal reason, if any
func RejectionReason(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// IsRetryable reports errors of the expiry class: the client restarts from issuance
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChallengeExpired) ||
		errors.Is(err, ErrWrongAnswer) ||
		errors.Is(err, ErrAddressMismatch)
}
