package domain

import (
	"time"
)

// PuzzleType represents the family of a challenge puzzle
type PuzzleType string

const (
	PuzzleMath     PuzzleType = "math"
	PuzzleBitwise  PuzzleType = "bitwise"
	PuzzleSequence PuzzleType = "sequence"
	PuzzleSum      PuzzleType = "sum"
)

// Puzzle holds the parameters of one puzzle. Only the fields of its type are set.
type Puzzle struct {
	Type    PuzzleType `json:"type"`
	A       int64      `json:"a,omitempty"`
	B       int64      `json:"b,omitempty"`
	C       int64      `json:"c,omitempty"`
	X       int64      `json:"x,omitempty"`
	Y       int64      `json:"y,omitempty"`
	Op      string     `json:"op,omitempty"`
	Seq     []int64    `json:"seq,omitempty"`
	Numbers []int64    `json:"numbers,omitempty"`
}

// Parameters returns the wire form of the puzzle without its type
func (p Puzzle) Parameters() map[string]interface{} {
	switch p.Type {
	case PuzzleMath:
		return map[string]interface{}{"a": p.A, "b": p.B, "c": p.C, "op": p.Op}
	case PuzzleBitwise:
		return map[string]interface{}{"x": p.X, "y": p.Y, "op": p.Op}
	case PuzzleSequence:
		return map[string]interface{}{"seq": p.Seq}
	case PuzzleSum:
		return map[string]interface{}{"numbers": p.Numbers}
	default:
		return map[string]interface{}{}
	}
}

// Challenge is a single-use puzzle bound to the identity and address that requested it
type Challenge struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	Puzzle      Puzzle    `json:"puzzle"`
	Answer      int64     `json:"answer"`
	Whitelisted bool      `json:"whitelisted"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ChallengeView is the only challenge shape returned to an unauthenticated caller
type ChallengeView struct {
	ID               string                 `json:"challengeId"`
	Type             PuzzleType             `json:"type"`
	Puzzle           map[string]interface{} `json:"puzzle"`
	ExpiresInSeconds int64                  `json:"expiresIn"`
}

// View strips the answer and binding from the challenge
func (c *Challenge) View() ChallengeView {
	return ChallengeView{
		ID:               c.ID,
		Type:             c.Puzzle.Type,
		Puzzle:           c.Puzzle.Parameters(),
		ExpiresInSeconds: int64(c.ExpiresAt.Sub(c.CreatedAt).Seconds()),
	}
}

// Solution is what a client submits for a challenge
type Solution struct {
	ChallengeID     string
	Answer          int64
	ClientTimestamp int64
	NetworkAddress  string
}

// VerifyResult is returned by a successful verification
type VerifyResult struct {
	ChallengeID string
	Identity    Identity
	Whitelisted bool
}
