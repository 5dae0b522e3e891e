// Package identity wraps the external phone-verification provider. Each login
// attempt gets its own Flow holding the opaque challenge handle; the handle is
// a live provider-side resource and must be torn down when a flow is
// abandoned, or it is left stuck and unusable.
package identity

import (
	"context"
	"errors"
)

// FlowState is where a verification flow stands.
type FlowState string

const (
	StateIdle          FlowState = "idle"
	StateChallengeSent FlowState = "challenge_sent"
	StateVerified      FlowState = "verified"
)

var (
	ErrChallengeInit      = errors.New("failed to initialize verification challenge")
	ErrInvalidPhone       = errors.New("invalid phone number format")
	ErrRateLimited        = errors.New("too many attempts, please try again later")
	ErrUnauthorizedOrigin = errors.New("origin not authorized for verification")
	ErrProviderInternal   = errors.New("verification service error")
	ErrNoActiveChallenge  = errors.New("no verification request found, request a new code")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code expired, request a new code")
)

// Flow is a single phone-verification attempt.
//
// State machine: Idle -> ChallengeSent on a successful SendCode, then
// ChallengeSent -> Verified on a successful VerifyCode. ErrInvalidCode keeps
// the flow in ChallengeSent so the user can retry without a new send;
// ErrCodeExpired and challenge-level send failures drop back to Idle with the
// challenge handle invalidated.
type Flow interface {
	// SendCode triggers an out-of-band verification challenge (SMS) to the
	// canonical phone number, initializing the bot-check handshake first if
	// needed.
	SendCode(ctx context.Context, phone string) error
	// VerifyCode completes the challenge and returns the identity assertion.
	VerifyCode(ctx context.Context, code string) (string, error)
	// Reset tears down the challenge handle and returns the flow to Idle.
	// Must be called when the flow is abandoned.
	Reset()
	State() FlowState
}

// Provider creates verification flows.
type Provider interface {
	NewFlow() Flow
}
