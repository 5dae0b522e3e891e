package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/portal/portal/internal/platform/backend"
	"github.com/portal/portal/internal/platform/identity"
	"github.com/portal/portal/internal/platform/token"
	"github.com/portal/portal/internal/platform/validate"
)

// Backend is the slice of the clinic API the orchestrator needs. Satisfied by
// *backend.Client.
type Backend interface {
	LookupPatients(ctx context.Context, phone, dob string) ([]backend.PatientCandidate, error)
	ExchangeToken(ctx context.Context, patientID, assertion string) (*backend.Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	PatientProfile(ctx context.Context, accessToken, patientID string) (*backend.Profile, error)
	AppConfig(ctx context.Context) (*backend.AppConfig, error)
}

type Service struct {
	backend Backend
	idp     identity.Provider
	logger  zerolog.Logger

	cooldown      time.Duration
	refreshBuffer time.Duration
	now           func() time.Time
}

func NewService(b Backend, idp identity.Provider, logger zerolog.Logger) *Service {
	return &Service{
		backend:  b,
		idp:      idp,
		logger:   logger,
		cooldown: ResendCooldown,
		now:      time.Now,
	}
}

// BeginLogin validates the submitted phone and DOB, looks up matching
// patients, and advances to OTP (single match) or disambiguation (several).
// Validation failures are returned before any state change or network call.
func (svc *Service) BeginLogin(ctx context.Context, s *Session, rawPhone, rawDOB string) (*Snapshot, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return nil, err
	}
	dob, err := validate.DOB(rawDOB)
	if err != nil {
		return nil, err
	}

	// A fresh login attempt discards whatever the session held before.
	s.mu.Lock()
	s.resetLocked()
	s.state = StateLookupPending
	s.phone = phone
	s.dob = dob
	s.mu.Unlock()

	patients, err := svc.backend.LookupPatients(ctx, phone, dob)

	s.mu.Lock()
	if err != nil {
		svc.logger.Warn().Err(err).Msg("patient lookup failed")
		s.state = StateLoggedOut
		s.mu.Unlock()
		return nil, ErrLookupUnavailable
	}
	switch len(patients) {
	case 0:
		s.state = StateLoggedOut
		s.mu.Unlock()
		return nil, ErrNoAccount
	case 1:
		s.patientID = patients[0].ID
		s.mu.Unlock()
		return svc.sendCode(ctx, s)
	default:
		s.pendingPatients = patients
		s.state = StateAwaitingDisambiguation
		snap := s.snapshotLocked(svc.now())
		s.mu.Unlock()
		return snap, nil
	}
}

// Disambiguate selects the pending candidate whose first and last name both
// match exactly, case-insensitively. No fuzzy or partial matching: anything
// short of exactly one exact match leaves the session where it is.
func (svc *Service) Disambiguate(ctx context.Context, s *Session, firstName, lastName string) (*Snapshot, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)

	s.mu.Lock()
	if s.state != StateAwaitingDisambiguation {
		s.mu.Unlock()
		return nil, ErrNotDisambiguating
	}
	if len(firstName) < 2 || len(lastName) < 2 {
		s.mu.Unlock()
		return nil, ErrNameTooShort
	}

	var matched *backend.PatientCandidate
	matches := 0
	for i := range s.pendingPatients {
		p := &s.pendingPatients[i]
		if strings.EqualFold(p.FirstName, firstName) && strings.EqualFold(p.LastName, lastName) {
			matched = p
			matches++
		}
	}
	switch {
	case matches == 0:
		s.mu.Unlock()
		return nil, ErrNameMismatch
	case matches > 1:
		s.mu.Unlock()
		return nil, ErrAmbiguousName
	}

	s.patientID = matched.ID
	s.mu.Unlock()
	return svc.sendCode(ctx, s)
}

// ResendCode re-triggers the OTP after the cooldown has elapsed. Any code the
// user had typed belongs to the superseded challenge, so verification state
// is discarded.
func (svc *Service) ResendCode(ctx context.Context, s *Session) (*Snapshot, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	if s.state != StateAwaitingOTP {
		s.mu.Unlock()
		return nil, ErrNotAwaitingCode
	}
	if !s.lastCodeSent.IsZero() {
		if wait := svc.cooldown - svc.now().Sub(s.lastCodeSent); wait > 0 {
			s.mu.Unlock()
			return nil, &CooldownError{Remaining: wait}
		}
	}
	s.assertion = ""
	s.otpVerified = false
	s.mu.Unlock()

	return svc.sendCode(ctx, s)
}

// VerifyCode confirms the 6-digit code, exchanges the resulting assertion for
// session tokens, and hydrates profile and clinic data. Hydration failures
// never revert the authenticated state.
func (svc *Service) VerifyCode(ctx context.Context, s *Session, code string) (*Snapshot, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	if s.state != StateAwaitingOTP {
		s.mu.Unlock()
		return nil, ErrNotAwaitingCode
	}
	if !isSixDigits(code) {
		s.mu.Unlock()
		return nil, ErrCodeFormat
	}
	flow := s.flow
	assertion := s.assertion
	s.mu.Unlock()

	if assertion == "" {
		if flow == nil {
			return nil, identity.ErrNoActiveChallenge
		}
		a, err := flow.VerifyCode(ctx, code)
		if err != nil {
			// ErrInvalidCode leaves the challenge alive for a retry and does
			// not consume the resend cooldown; ErrCodeExpired forces a fresh
			// send. Either way the session stays on the OTP step.
			return nil, err
		}
		assertion = a
		s.mu.Lock()
		s.assertion = a
		s.otpVerified = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.patientID == "" {
		// Session data lost mid-flow. Never call exchange with nothing to
		// exchange for.
		s.resetLocked()
		s.mu.Unlock()
		return nil, ErrSessionExpired
	}
	s.state = StateExchanging
	patientID := s.patientID
	s.mu.Unlock()

	tokens, err := svc.backend.ExchangeToken(ctx, patientID, assertion)
	if err != nil {
		s.mu.Lock()
		s.state = StateAwaitingOTP
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	store := token.NewStore(svc.backend, svc.logger, token.Options{
		RefreshBuffer: svc.refreshBuffer,
		OnSessionEnd:  s.endSession,
	})
	store.Set(tokens.AccessToken, tokens.RefreshToken)
	s.tokens = store
	s.state = StateAuthenticated
	if s.flow != nil {
		s.flow.Reset()
		s.flow = nil
	}
	access := tokens.AccessToken
	s.mu.Unlock()

	svc.hydrate(ctx, s, access, patientID)

	s.mu.Lock()
	snap := s.snapshotLocked(svc.now())
	s.mu.Unlock()
	return snap, nil
}

// Logout clears tokens and all in-memory session fields from any state.
func (svc *Service) Logout(ctx context.Context, s *Session) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return nil
}

// Snapshot renders the session for the UI.
func (svc *Service) Snapshot(s *Session) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(svc.now())
}

// Profile returns the hydrated patient profile, fetching it on demand if the
// post-login hydration failed.
func (svc *Service) Profile(ctx context.Context, s *Session) (*backend.Profile, error) {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.tokens == nil {
		s.mu.Unlock()
		return nil, ErrSessionExpired
	}
	if s.profile != nil {
		p := s.profile
		s.mu.Unlock()
		return p, nil
	}
	access := s.tokens.AccessToken()
	patientID := s.patientID
	s.mu.Unlock()

	p, err := svc.backend.PatientProfile(ctx, access, patientID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return p, nil
}

// ClinicInfo returns the tenant display configuration.
func (svc *Service) ClinicInfo(ctx context.Context) (*backend.AppConfig, error) {
	return svc.backend.AppConfig(ctx)
}

// sendCode moves the session onto the OTP step and triggers the initial (or
// repeated) send. A failed send leaves the session on the OTP step with no
// cooldown running, so the user may retry immediately.
func (svc *Service) sendCode(ctx context.Context, s *Session) (*Snapshot, error) {
	s.mu.Lock()
	if s.flow == nil {
		s.flow = svc.idp.NewFlow()
	}
	flow := s.flow
	phone := s.phone
	s.state = StateAwaitingOTP
	s.mu.Unlock()

	err := flow.SendCode(ctx, phone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		svc.logger.Warn().Err(err).Msg("otp send failed")
		return nil, err
	}
	s.lastCodeSent = svc.now()
	return s.snapshotLocked(svc.now()), nil
}

// hydrate fetches profile and clinic data after a successful exchange.
func (svc *Service) hydrate(ctx context.Context, s *Session, access, patientID string) {
	profile, err := svc.backend.PatientProfile(ctx, access, patientID)
	if err != nil {
		svc.logger.Warn().Err(err).Msg("profile hydration failed")
	}
	clinic, err := svc.backend.AppConfig(ctx)
	if err != nil {
		svc.logger.Warn().Err(err).Msg("clinic config hydration failed")
	}

	s.mu.Lock()
	if s.state == StateAuthenticated {
		if profile != nil {
			s.profile = profile
		}
		if clinic != nil {
			s.clinic = clinic
		}
	}
	s.mu.Unlock()
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// -- Session internals --

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrOperationInFlight
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// endSession is the token store's refresh-failure callback. The tokens are
// already gone; drop the rest of the session so the next request sees a
// logged-out state.
func (s *Session) endSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	if s.flow != nil {
		s.flow.Reset()
		s.flow = nil
	}
	if s.tokens != nil {
		s.tokens.Clear()
		s.tokens = nil
	}
	s.state = StateLoggedOut
	s.phone = ""
	s.dob = ""
	s.patientID = ""
	s.assertion = ""
	s.pendingPatients = nil
	s.otpVerified = false
	s.profile = nil
	s.clinic = nil
	s.lastCodeSent = time.Time{}
}

func (s *Session) snapshotLocked(now time.Time) *Snapshot {
	snap := &Snapshot{
		State:       s.state,
		Phone:       s.phone,
		OTPVerified: s.otpVerified,
	}
	if s.state == StateAwaitingDisambiguation {
		for _, p := range s.pendingPatients {
			snap.PendingPatients = append(snap.PendingPatients, CandidateSummary{
				FirstName: p.FirstName,
				LastName:  p.LastName,
			})
		}
	}
	if s.state == StateAwaitingOTP && !s.lastCodeSent.IsZero() {
		if wait := ResendCooldown - now.Sub(s.lastCodeSent); wait > 0 {
			snap.ResendWaitSecs = int((wait + time.Second - 1) / time.Second)
		}
	}
	if s.state == StateAuthenticated {
		snap.Profile = s.profile
	}
	return snap
}
