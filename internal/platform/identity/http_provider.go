package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPProvider talks to the identity provider's REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  zerolog.Logger
}

func NewHTTPProvider(baseURL, apiKey string, logger zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (p *HTTPProvider) NewFlow() Flow {
	return &httpFlow{provider: p, state: StateIdle}
}

type httpFlow struct {
	provider *HTTPProvider

	mu          sync.Mutex
	state       FlowState
	challengeID string
}

// providerError is the provider's error envelope.
type providerError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (f *httpFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *httpFlow) SendCode(ctx context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Handshake init is idempotent: an existing healthy handle is reused.
	if f.challengeID == "" {
		id, err := f.provider.initChallenge(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChallengeInit, err)
		}
		f.challengeID = id
	}

	err := f.provider.sendCode(ctx, f.challengeID, phone)
	if err != nil {
		// A failed challenge handle is not reusable; force re-init on the
		// next attempt. Invalid phone and throttling leave it intact.
		if errors.Is(err, ErrProviderInternal) || errors.Is(err, ErrChallengeInit) {
			f.teardownLocked(context.Background())
		}
		return err
	}

	f.state = StateChallengeSent
	return nil
}

func (f *httpFlow) VerifyCode(ctx context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateChallengeSent {
		return "", ErrNoActiveChallenge
	}

	assertion, err := f.provider.confirmCode(ctx, f.challengeID, code)
	if err != nil {
		if errors.Is(err, ErrCodeExpired) {
			// Expired code forces a fresh send; the handle is spent.
			f.teardownLocked(context.Background())
		}
		// ErrInvalidCode stays in ChallengeSent for a retry with a new code.
		return "", err
	}

	f.state = StateVerified
	return assertion, nil
}

func (f *httpFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownLocked(context.Background())
}

func (f *httpFlow) teardownLocked(ctx context.Context) {
	if f.challengeID != "" {
		f.provider.deleteChallenge(ctx, f.challengeID)
		f.challengeID = ""
	}
	f.state = StateIdle
}

// -- provider endpoints --

func (p *HTTPProvider) initChallenge(ctx context.Context) (string, error) {
	resp, err := p.post(ctx, "/v1/challenge", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ChallengeID == "" {
		return "", fmt.Errorf("empty challenge id")
	}
	return out.ChallengeID, nil
}

func (p *HTTPProvider) sendCode(ctx context.Context, challengeID, phone string) error {
	resp, err := p.post(ctx, "/v1/challenge/"+challengeID+"/send", map[string]string{"phone": phone})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderInternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return p.mapError(resp)
}

func (p *HTTPProvider) confirmCode(ctx context.Context, challengeID, code string) (string, error) {
	resp, err := p.post(ctx, "/v1/challenge/"+challengeID+"/confirm", map[string]string{"code": code})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderInternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		var out struct {
			Assertion string `json:"assertion"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: %v", ErrProviderInternal, err)
		}
		return out.Assertion, nil
	}
	return "", p.mapError(resp)
}

func (p *HTTPProvider) deleteChallenge(ctx context.Context, challengeID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/v1/challenge/"+challengeID, nil)
	if err != nil {
		return
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("challenge_id", challengeID).Msg("challenge teardown failed")
		return
	}
	resp.Body.Close()
}

// mapError converts the provider's error envelope to a package sentinel.
func (p *HTTPProvider) mapError(resp *http.Response) error {
	var pe providerError
	_ = json.NewDecoder(resp.Body).Decode(&pe)

	switch pe.Code {
	case "invalid_phone":
		return ErrInvalidPhone
	case "rate_limited":
		return ErrRateLimited
	case "unauthorized_origin":
		return ErrUnauthorizedOrigin
	case "invalid_code":
		return ErrInvalidCode
	case "code_expired":
		return ErrCodeExpired
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusForbidden:
		return ErrUnauthorizedOrigin
	case http.StatusBadRequest:
		return ErrInvalidPhone
	default:
		return fmt.Errorf("%w: status %d", ErrProviderInternal, resp.StatusCode)
	}
}

func (p *HTTPProvider) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
	return p.httpc.Do(req)
}
