// Package session drives the portal login pipeline: phone+DOB lookup, name
// disambiguation when several patients share a line, OTP verification, token
// exchange, and profile hydration. Each browser session owns one Session; the
// Registry maps cookie ids to live sessions.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portal/portal/internal/platform/backend"
	"github.com/portal/portal/internal/platform/identity"
	"github.com/portal/portal/internal/platform/token"
)

// State is the position in the login pipeline.
type State string

const (
	StateLoggedOut              State = "logged_out"
	StateLookupPending          State = "lookup_pending"
	StateAwaitingDisambiguation State = "awaiting_disambiguation"
	StateAwaitingOTP            State = "awaiting_otp"
	StateExchanging             State = "exchanging"
	StateAuthenticated          State = "authenticated"
)

// ResendCooldown is the wall-clock wait between OTP sends, restarted on every
// successful send.
const ResendCooldown = 60 * time.Second

var (
	ErrOperationInFlight = errors.New("another request is already in progress")
	ErrNoAccount         = errors.New("no patient record found with this phone number and date of birth")
	ErrNameMismatch      = errors.New("no matching account found, please check your name and try again")
	ErrAmbiguousName     = errors.New("more than one account matches that name")
	ErrNameTooShort      = errors.New("first and last name must each be at least 2 characters")
	ErrNotDisambiguating = errors.New("no account selection is pending")
	ErrNotAwaitingCode   = errors.New("no verification is in progress")
	ErrCodeFormat        = errors.New("please enter the 6-digit verification code")
	ErrSessionExpired    = errors.New("your session has expired, please log in again")
	ErrLookupUnavailable = errors.New("unable to connect to server, please try again")
)

// CooldownError is returned when a resend is requested before the cooldown
// has elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return "please wait before requesting a new code"
}

// Session is the per-browser login state machine. All fields behind mu; the
// busy flag serializes operations so a second submission while one is in
// flight is rejected instead of interleaved.
type Session struct {
	ID uuid.UUID

	mu   sync.Mutex
	busy bool

	state           State
	phone           string // canonical +1XXXXXXXXXX
	dob             string // canonical YYYY-MM-DD
	patientID       string
	pendingPatients []backend.PatientCandidate
	otpVerified     bool
	assertion       string

	flow         identity.Flow
	tokens       *token.Store
	lastCodeSent time.Time
	lastAccess   time.Time

	profile *backend.Profile
	clinic  *backend.AppConfig
}

// Snapshot is the orchestrator-visible state rendered to the UI.
type Snapshot struct {
	State           State              `json:"state"`
	Phone           string             `json:"phone,omitempty"`
	PendingPatients []CandidateSummary `json:"pending_patients,omitempty"`
	OTPVerified     bool               `json:"otp_verified"`
	ResendWaitSecs  int                `json:"resend_wait_seconds"`
	Profile         *backend.Profile   `json:"profile,omitempty"`
}

// CandidateSummary is the disambiguation view of a candidate. Only names are
// exposed; contact details stay server-side until the user is verified.
type CandidateSummary struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
