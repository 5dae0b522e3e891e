// Package backend is the HTTP client for the clinic backend API: patient
// family lookup, token exchange and refresh, patient profile, and tenant app
// configuration. Lookup runs before authentication and therefore uses a
// short-lived anonymous credential that the client caches and renews itself.
package backend

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

var (
	// ErrExchangeRejected means the backend declined the assertion/patient
	// pair. Recoverable: the user stays on the OTP step.
	ErrExchangeRejected = errors.New("token exchange rejected")
	// ErrRefreshRejected means the refresh token is invalid or expired.
	// Fatal to the session: the caller must clear all tokens.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

const (
	anonTokenTTL  = time.Hour
	anonRenewLead = 5 * time.Minute
)

type Config struct {
	BaseURL  string
	APIKey   string
	OrgID    string
	ClientID string
	TenantID string
}

type Client struct {
	cfg    Config
	httpc  *http.Client
	logger zerolog.Logger

	// Anonymous credential cache. Read-mostly; renewed by whichever caller
	// finds it missing or close to expiry.
	anonMu     sync.Mutex
	anonToken  string
	anonExpiry time.Time

	appMu  sync.Mutex
	appCfg *AppConfig
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// PatientCandidate is one record returned by family lookup. Several may share
// a phone number and date of birth, e.g. family members on one line.
type PatientCandidate struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email,omitempty"`
	PhoneNumber   string `json:"phoneNumber"`
	DateOfBirth   string `json:"dateOfBirth"`
	PatientNumber string `json:"patientNumber,omitempty"`
}

// Tokens is the session token pair returned by the exchange endpoint.
type Tokens struct {
	Status       string `json:"status"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// LookupPatients queries the backend for patients matching a canonical phone
// and DOB. An empty result (including a 404 from the backend) is not an
// error; the caller interprets it as "no account".
func (c *Client) LookupPatients(ctx context.Context, phone, dob string) ([]PatientCandidate, error) {
	anon, err := c.ensureAnonToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("anonymous credential: %w", err)
	}

	body := map[string]string{
		"orgId":       c.cfg.OrgID,
		"clientId":    c.cfg.ClientID,
		"phoneNumber": phone,
		"dob":         dob,
	}
	resp, err := c.post(ctx, fmt.Sprintf("/%s/patients/family_lookup", c.cfg.ClientID), body, anon)
	if err != nil {
		return nil, fmt.Errorf("family lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("family lookup: status %d", resp.StatusCode)
	}

	var patients []PatientCandidate
	if err := json.NewDecoder(resp.Body).Decode(&patients); err != nil {
		return nil, fmt.Errorf("family lookup: decode response: %w", err)
	}
	return patients, nil
}

// ExchangeToken converts a verified identity assertion plus the chosen
// patient id into session tokens.
func (c *Client) ExchangeToken(ctx context.Context, patientID, assertion string) (*Tokens, error) {
	body := map[string]string{
		"patient_id": patientID,
		"id_token":   assertion,
		"client_id":  c.cfg.ClientID,
		"org_id":     c.cfg.OrgID,
	}
	resp, err := c.post(ctx, "/auth/exchange_token", body, "")
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d", ErrExchangeRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange: status %d", resp.StatusCode)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("token exchange: decode response: %w", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%w: incomplete token response", ErrExchangeRejected)
	}
	return &tokens, nil
}

// RefreshToken trades a refresh token for a new access token. A 4xx response
// means the refresh token is no longer accepted and the session must end.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	resp, err := c.post(ctx, "/auth/refresh_token", map[string]string{"refresh_token": refreshToken}, "")
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token refresh: decode response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrRefreshRejected)
	}
	return out.AccessToken, nil
}

func (c *Client) ensureAnonToken(ctx context.Context) (string, error) {
	c.anonMu.Lock()
	defer c.anonMu.Unlock()

	if c.anonToken != "" && time.Now().Before(c.anonExpiry.Add(-anonRenewLead)) {
		return c.anonToken, nil
	}

	body := map[string]string{
		"id_token":   "anonymous",
		"org_id":     c.cfg.OrgID,
		"client_id":  c.cfg.ClientID,
		"patient_id": "anonymous",
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/exchange_anon_token", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("empty anonymous token")
	}

	c.anonToken = out.AccessToken
	c.anonExpiry = time.Now().Add(anonTokenTTL)
	c.logger.Debug().Time("expiry", c.anonExpiry).Msg("anonymous credential renewed")
	return c.anonToken, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, bearer string) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.httpc.Do(req)
}

func (c *Client) get(ctx context.Context, path, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.httpc.Do(req)
}
