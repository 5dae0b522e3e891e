package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Profile holds the patient-profile fields the portal displays.
type Profile struct {
	ID                     string `json:"id"`
	FirstName              string `json:"firstName"`
	LastName               string `json:"lastName"`
	DateOfBirth            string `json:"dateOfBirth"`
	PhoneNumber            string `json:"phoneNumber"`
	Email                  string `json:"email"`
	Address                string `json:"address,omitempty"`
	City                   string `json:"city,omitempty"`
	State                  string `json:"state,omitempty"`
	ZipCode                string `json:"zipCode,omitempty"`
	Gender                 string `json:"gender,omitempty"`
	MaritalStatus          string `json:"maritalStatus,omitempty"`
	PatientNumber          string `json:"patientNumber,omitempty"`
	Language               string `json:"language,omitempty"`
	PreferredContactMethod string `json:"preferredContactMethod,omitempty"`
}

// AppConfig is the tenant display configuration (clinic name, contact
// details, branding URLs).
type AppConfig struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	LogoURL     string `json:"logo_url"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	ClinicURL   string `json:"clinic_url"`
	MapsURL     string `json:"maps_url"`
	Timezone    string `json:"timezone"`
}

// PatientProfile fetches the profile for the given patient using the
// session's access token.
func (c *Client) PatientProfile(ctx context.Context, accessToken, patientID string) (*Profile, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/%s/patients/profile/%s", c.cfg.ClientID, patientID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("patient profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("patient profile: status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("patient profile: decode response: %w", err)
	}
	return &p, nil
}

// AppConfig returns the tenant display configuration, cached for the process
// lifetime after the first successful fetch.
func (c *Client) AppConfig(ctx context.Context) (*AppConfig, error) {
	c.appMu.Lock()
	defer c.appMu.Unlock()

	if c.appCfg != nil {
		return c.appCfg, nil
	}

	resp, err := c.get(ctx, "/app_config/"+c.cfg.TenantID, "")
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app config: status %d", resp.StatusCode)
	}

	var cfg AppConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("app config: decode response: %w", err)
	}
	c.appCfg = &cfg
	return c.appCfg, nil
}
