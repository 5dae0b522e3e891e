package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		OrgID:    "org-1",
		ClientID: "clinic",
		TenantID: "tenant-1",
	}, zerolog.Nop())
	return c, srv
}

func anonHandler(mux *http.ServeMux, calls *int32) {
	mux.HandleFunc("/auth/exchange_anon_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "anon-token"})
	})
}

func TestLookupPatients(t *testing.T) {
	var anonCalls int32
	mux := http.NewServeMux()
	anonHandler(mux, &anonCalls)
	mux.HandleFunc("/clinic/patients/family_lookup", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer anon-token" {
			t.Errorf("lookup sent %q, want anonymous bearer", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["phoneNumber"] != "+15551234567" || body["dob"] != "1990-05-20" {
			t.Errorf("unexpected lookup body: %v", body)
		}
		json.NewEncoder(w).Encode([]PatientCandidate{
			{ID: "p1", FirstName: "Jane", LastName: "Doe", PhoneNumber: "+15551234567", DateOfBirth: "1990-05-20"},
		})
	})

	c, _ := testClient(t, mux)
	patients, err := c.LookupPatients(context.Background(), "+15551234567", "1990-05-20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != "p1" {
		t.Errorf("unexpected patients: %+v", patients)
	}
}

func TestLookupPatients_NotFoundIsEmpty(t *testing.T) {
	var anonCalls int32
	mux := http.NewServeMux()
	anonHandler(mux, &anonCalls)
	mux.HandleFunc("/clinic/patients/family_lookup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c, _ := testClient(t, mux)
	patients, err := c.LookupPatients(context.Background(), "+15551234567", "1990-05-20")
	if err != nil {
		t.Fatalf("404 must not be an error, got %v", err)
	}
	if len(patients) != 0 {
		t.Errorf("expected empty list, got %+v", patients)
	}
}

// The anonymous credential is fetched once and reused across lookups.
func TestAnonymousTokenCached(t *testing.T) {
	var anonCalls int32
	mux := http.NewServeMux()
	anonHandler(mux, &anonCalls)
	mux.HandleFunc("/clinic/patients/family_lookup", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]PatientCandidate{})
	})

	c, _ := testClient(t, mux)
	for i := 0; i < 3; i++ {
		if _, err := c.LookupPatients(context.Background(), "+15551234567", "1990-05-20"); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&anonCalls); got != 1 {
		t.Errorf("anonymous token fetched %d times, want 1", got)
	}
}

func TestExchangeToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/exchange_token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["patient_id"] != "p1" || body["id_token"] != "assertion-1" {
			t.Errorf("unexpected exchange body: %v", body)
		}
		json.NewEncoder(w).Encode(Tokens{
			Status: "ok", AccessToken: "acc", RefreshToken: "ref", TokenType: "Bearer",
		})
	})

	c, _ := testClient(t, mux)
	tokens, err := c.ExchangeToken(context.Background(), "p1", "assertion-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens.AccessToken != "acc" || tokens.RefreshToken != "ref" {
		t.Errorf("unexpected tokens: %+v", tokens)
	}
}

func TestExchangeToken_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/exchange_token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c, _ := testClient(t, mux)
	_, err := c.ExchangeToken(context.Background(), "p1", "assertion-1")
	if !errors.Is(err, ErrExchangeRejected) {
		t.Errorf("got %v, want ErrExchangeRejected", err)
	}
}

func TestRefreshToken_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh_token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, _ := testClient(t, mux)
	_, err := c.RefreshToken(context.Background(), "stale")
	if !errors.Is(err, ErrRefreshRejected) {
		t.Errorf("got %v, want ErrRefreshRejected", err)
	}
}

func TestRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh_token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "ref-1" {
			t.Errorf("unexpected refresh body: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "acc-2"})
	})

	c, _ := testClient(t, mux)
	access, err := c.RefreshToken(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if access != "acc-2" {
		t.Errorf("got %q, want acc-2", access)
	}
}

func TestAppConfig_CachedForProcessLifetime(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/app_config/tenant-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(AppConfig{DisplayName: "Sunrise Clinic"})
	})

	c, _ := testClient(t, mux)
	for i := 0; i < 3; i++ {
		cfg, err := c.AppConfig(context.Background())
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if cfg.DisplayName != "Sunrise Clinic" {
			t.Errorf("unexpected config: %+v", cfg)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("app config fetched %d times, want 1", got)
	}
}

func TestPatientProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clinic/patients/profile/p1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer acc" {
			t.Errorf("profile sent %q, want session bearer", got)
		}
		json.NewEncoder(w).Encode(Profile{ID: "p1", FirstName: "Jane"})
	})

	c, _ := testClient(t, mux)
	p, err := c.PatientProfile(context.Background(), "acc", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "p1" || p.FirstName != "Jane" {
		t.Errorf("unexpected profile: %+v", p)
	}
}
