// Package token owns the session token pair and its proactive renewal. A
// Store holds at most one pending renewal timer; setting new tokens always
// cancels the previous timer before scheduling the next one.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// DefaultRefreshBuffer is the lead time before access-token expiry at which
// renewal is triggered.
const DefaultRefreshBuffer = time.Minute

var ErrNoRefreshToken = errors.New("no refresh token held")

// Refresher exchanges a refresh token for a new access token. Implemented by
// the backend client.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// Options tune a Store. The zero value gives the production defaults.
type Options struct {
	// RefreshBuffer overrides DefaultRefreshBuffer when positive.
	RefreshBuffer time.Duration
	// OnSessionEnd is invoked after a failed refresh has cleared the store.
	// The session is terminated at that point and the caller must force a
	// fresh login.
	OnSessionEnd func()
}

type Store struct {
	refresher Refresher
	buffer    time.Duration
	onEnd     func()
	logger    zerolog.Logger

	mu      sync.Mutex
	access  string
	refresh string
	timer   *time.Timer
}

func NewStore(refresher Refresher, logger zerolog.Logger, opts Options) *Store {
	buffer := opts.RefreshBuffer
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	return &Store{
		refresher: refresher,
		buffer:    buffer,
		onEnd:     opts.OnSessionEnd,
		logger:    logger,
	}
}

// Set stores a new token pair and schedules proactive renewal. A token whose
// expiry claim cannot be decoded is treated as already expired: no timer is
// scheduled and the next authenticated request will fail.
func (s *Store) Set(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()
	s.access = access
	s.refresh = refresh

	exp, err := expiry(access)
	if err != nil {
		s.logger.Warn().Err(err).Msg("access token expiry undecodable, skipping renewal timer")
		return
	}

	refreshIn := time.Until(exp) - s.buffer
	if refreshIn <= 0 {
		return
	}

	s.logger.Debug().Dur("refresh_in", refreshIn).Msg("scheduled token renewal")
	s.timer = time.AfterFunc(refreshIn, func() {
		// Fired off the request path; the session may be on any page.
		_ = s.Refresh(context.Background())
	})
}

// Refresh exchanges the stored refresh token for a new access token and
// reschedules the renewal timer. On any failure the store is cleared and the
// session is considered terminated.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	rt := s.refresh
	s.mu.Unlock()
	if rt == "" {
		return ErrNoRefreshToken
	}

	access, err := s.refresher.RefreshToken(ctx, rt)

	s.mu.Lock()
	if s.refresh != rt {
		// Cleared or replaced while the request was in flight; the result
		// belongs to a dead session.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("token refresh failed, ending session")
		s.clearLocked()
		s.mu.Unlock()
		if s.onEnd != nil {
			s.onEnd()
		}
		return err
	}

	s.cancelTimerLocked()
	s.access = access
	if exp, decErr := expiry(access); decErr == nil {
		if refreshIn := time.Until(exp) - s.buffer; refreshIn > 0 {
			s.timer = time.AfterFunc(refreshIn, func() {
				_ = s.Refresh(context.Background())
			})
		}
	}
	s.mu.Unlock()
	s.logger.Debug().Msg("access token refreshed")
	return nil
}

// Clear cancels any pending renewal and discards both tokens. Safe to call on
// an empty store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

func (s *Store) clearLocked() {
	s.cancelTimerLocked()
	s.access = ""
	s.refresh = ""
}

func (s *Store) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// expiry extracts the exp claim without verifying the signature. This service
// is a token consumer, not the issuer; verification happens backend-side.
func expiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

// IsExpired treats an undecodable token as expired, never as valid.
func IsExpired(token string) bool {
	exp, err := expiry(token)
	if err != nil {
		return true
	}
	return !time.Now().Before(exp)
}

// IsExpiringSoon reports whether the token expires within the given window.
// Undecodable tokens count as expiring.
func IsExpiringSoon(token string, window time.Duration) bool {
	exp, err := expiry(token)
	if err != nil {
		return true
	}
	return !time.Now().Add(window).Before(exp)
}
